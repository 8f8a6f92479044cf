package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"storescout/pkg/canonical"
	dErrors "storescout/pkg/domain-errors"
)

// Candidate is the unit of work: one logical storefront identified by its
// canonical URL. Created exactly once by discovery, then only enriched.
type Candidate struct {
	ID           uuid.UUID `json:"id"`
	CanonicalURL string    `json:"canonical_url"`
	DisplayName  string    `json:"display_name"`

	// Provenance, write-once at discovery.
	DiscoverySource   string            `json:"discovery_source"`
	DiscoveryMetadata map[string]string `json:"discovery_metadata,omitempty"`

	// Verification output. Confidence is nil until verification first runs.
	PlatformStatus     PlatformStatus  `json:"platform_status"`
	PlatformConfidence *float64        `json:"platform_confidence,omitempty"`
	PlatformSignals    map[string]bool `json:"platform_signals,omitempty"`

	// Operational state. Verified requires both the confidence threshold and
	// a passing strict check; StrictPassed and StrictReasons keep the last
	// strict overlay verdict for audit.
	LifecycleStatus LifecycleStatus `json:"lifecycle_status"`
	Verified        bool            `json:"verified"`
	StrictPassed    bool            `json:"strict_passed"`
	StrictReasons   []string        `json:"strict_reasons,omitempty"`

	// Quantity metadata. Metric is nil unless QuantityStatus is confirmed.
	QuantityMetric *int           `json:"quantity_metric,omitempty"`
	QuantityStatus QuantityStatus `json:"quantity_status"`

	// Descriptive attributes from the classifier.
	Locale             string   `json:"locale,omitempty"`
	VisualTheme        string   `json:"visual_theme,omitempty"`
	CategoryTags       []string `json:"category_tags,omitempty"`
	PrimaryCategory    string   `json:"primary_category,omitempty"`
	CategoryConfidence float64  `json:"category_confidence,omitempty"`

	// Scheduling state.
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	DateAdded      time.Time `json:"date_added"`
	LastObservedAt time.Time `json:"last_observed_at"`
}

// NewCandidate constructs a freshly discovered candidate with all enrichment
// fields unset. Verification state is never guessed at discovery time.
func NewCandidate(id uuid.UUID, canonicalURL, source string, metadata map[string]string, now time.Time) (*Candidate, error) {
	canonicalURL = strings.TrimSpace(canonicalURL)
	if canonicalURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "canonical URL cannot be empty")
	}
	if source == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "discovery source cannot be empty")
	}

	return &Candidate{
		ID:                id,
		CanonicalURL:      canonicalURL,
		DisplayName:       canonical.DisplayName(canonicalURL),
		DiscoverySource:   source,
		DiscoveryMetadata: metadata,
		PlatformStatus:    PlatformUnset,
		LifecycleStatus:   LifecyclePending,
		QuantityStatus:    QuantityUnset,
		DateAdded:         now,
		LastObservedAt:    now,
	}, nil
}

// VerificationUpdate is the field-scoped write produced by the verification
// service. Signals carry every probe outcome, not just the aggregate, so the
// candidate can be re-scored later without re-probing.
type VerificationUpdate struct {
	Confidence float64
	Status     PlatformStatus
	Signals    map[string]bool
}

// StrictUpdate is the field-scoped write produced by the strict overlay.
type StrictUpdate struct {
	Verified bool
	Active   bool
	Status   LifecycleStatus
	Reasons  []string
}

// HealthUpdate is the field-scoped write produced by the health check. A nil
// Lifecycle pointer means the health pass leaves the current status alone.
type HealthUpdate struct {
	Lifecycle      LifecycleStatus
	QuantityStatus QuantityStatus
	QuantityMetric *int
}

// ClassificationUpdate is the field-scoped write produced by the classifier.
// Empty strings mean "detector returned nothing, keep the current value".
type ClassificationUpdate struct {
	DisplayName        string
	Locale             string
	VisualTheme        string
	PrimaryCategory    string
	CategoryTags       []string
	CategoryConfidence float64
}
