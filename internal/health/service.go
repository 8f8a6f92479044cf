// Package health runs the soft operational checks. Unlike the strict
// overlay it never rejects a candidate: every branch resolves to a status
// write, and anything it cannot determine is stored as unknown rather than
// guessed. Quantity truth lives here; zero is a confirmed value, and no
// layer below presentation may fabricate a nonzero default.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storescout/internal/candidate/models"
	"storescout/internal/platform/metrics"
	"storescout/internal/platform/probe"
	"storescout/pkg/canonical"
)

// Outcome reasons reported in batch summaries.
const (
	ReasonPasswordWall        = "password_wall"
	ReasonNonexistent         = "nonexistent"
	ReasonCorroboratedDown    = "corroborated_inactive"
	ReasonAccessRateLimited   = "access_rate_limited"
	ReasonAccessBlocked       = "access_blocked"
	ReasonSoftDown            = "soft_down"
	ReasonQuantityRateLimited = "quantity_rate_limited"
	ReasonHealthy             = "healthy"
)

const countPath = "/products/count.json"

// passwordMarkers identify the platform's storefront password wall.
var passwordMarkers = []string{
	"enter using password",
	"opening soon",
	"password page",
}

// notFoundMarkers identify the platform's "no such shop" page, distinct
// from an ordinary 404 on a live store.
var notFoundMarkers = []string{
	"this shop does not exist",
	"no such shop",
	"doesn't exist",
}

// softDownMarkers indicate a store that looks temporarily down rather than
// terminated.
var softDownMarkers = []string{
	"be right back",
	"temporarily unavailable",
	"we'll be back soon",
}

// Outcome is the result of one health pass. An empty Lifecycle means the
// pass leaves the current lifecycle alone (e.g. a pure rate-limit answer).
type Outcome struct {
	Lifecycle      models.LifecycleStatus
	QuantityStatus models.QuantityStatus
	QuantityMetric *int
	Reason         string
	// Retryable marks outcomes that should be rescheduled with backoff.
	Retryable bool
}

// Update converts the outcome into the store's field-scoped write.
func (o *Outcome) Update() models.HealthUpdate {
	return models.HealthUpdate{
		Lifecycle:      o.Lifecycle,
		QuantityStatus: o.QuantityStatus,
		QuantityMetric: o.QuantityMetric,
	}
}

// Service runs health checks.
type Service struct {
	fetcher probe.Fetcher
	logger  *slog.Logger
	meter   *metrics.Metrics
	timeout time.Duration
}

// Option configures the service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.meter = m
	}
}

func WithProbeTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// New constructs a health service.
func New(fetcher probe.Fetcher, opts ...Option) *Service {
	s := &Service{
		fetcher: fetcher,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates the candidate's operational state. Conditions are applied
// in precedence order; the highest-ranking one that holds wins:
//
//  1. password wall        -> password_protected
//  2. does-not-exist page  -> nonexistent (terminal, leaves retry rotation)
//  3. corroborated prior terminal negative -> kept as-is
//  4. rate-limited quantity probe -> quantity rate_limited, lifecycle untouched
//  5. soft down marker     -> possibly_inactive (retryable)
//  6. otherwise            -> active
func (s *Service) Check(ctx context.Context, cand *models.Candidate, origin string) *Outcome {
	if origin == "" {
		origin = canonical.BaseURL(cand.CanonicalURL)
	}

	outcome := s.evaluate(ctx, cand, origin)
	if s.meter != nil {
		s.meter.ObserveProbe("health_check", outcome.Reason)
	}
	s.logger.InfoContext(ctx, "health check finished",
		"candidate_id", cand.ID,
		"canonical_url", cand.CanonicalURL,
		"reason", outcome.Reason,
		"lifecycle", outcome.Lifecycle,
		"quantity_status", outcome.QuantityStatus,
	)
	return outcome
}

func (s *Service) evaluate(ctx context.Context, cand *models.Candidate, origin string) *Outcome {
	root, err := s.fetch(ctx, origin)
	if err != nil {
		// Transport failure is soft evidence only; the strict overlay is the
		// component that declares death.
		return &Outcome{
			Lifecycle:      models.LifecyclePossiblyInactive,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonSoftDown,
			Retryable:      true,
		}
	}

	body := strings.ToLower(string(root.Body))

	// 1. Access gate: a password wall hides everything behind it, so no
	// deeper probe result can be trusted.
	if s.passwordWall(root, body) {
		return &Outcome{
			Lifecycle:      models.LifecyclePasswordProtected,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonPasswordWall,
			Retryable:      true,
		}
	}

	// 2. Explicit "no such shop": terminal, never rescheduled.
	if root.StatusCode == http.StatusNotFound && containsAny(body, notFoundMarkers) {
		return &Outcome{
			Lifecycle:      models.LifecycleNonexistent,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonNonexistent,
		}
	}

	// Access-level throttling and blocking on the root document.
	switch root.StatusCode {
	case http.StatusTooManyRequests:
		return &Outcome{
			Lifecycle:      models.LifecycleRateLimited,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonAccessRateLimited,
			Retryable:      true,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Outcome{
			Lifecycle:      models.LifecycleBlocked,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonAccessBlocked,
			Retryable:      true,
		}
	}

	// 3. A prior terminal negative stays when the page still corroborates it.
	if cand.LifecycleStatus == models.LifecycleInactivePlatform && containsAny(body, softDownMarkers) {
		return &Outcome{
			Lifecycle:      models.LifecycleInactivePlatform,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonCorroboratedDown,
		}
	}

	quantity := s.quantity(ctx, origin)

	// 4. A throttled quantity probe says nothing about the store itself:
	// record the rate limit, schedule a retry, leave lifecycle alone.
	if quantity.Outcome == models.OutcomeRateLimited {
		return &Outcome{
			QuantityStatus: models.QuantityRateLimited,
			Reason:         ReasonQuantityRateLimited,
			Retryable:      true,
		}
	}

	// 5. Soft "temporarily down" markers are retryable, not terminal.
	if !root.OK() || containsAny(body, softDownMarkers) {
		return &Outcome{
			Lifecycle:      models.LifecyclePossiblyInactive,
			QuantityStatus: models.QuantityUnknown,
			Reason:         ReasonSoftDown,
			Retryable:      true,
		}
	}

	// 6. Healthy.
	out := &Outcome{
		Lifecycle: models.LifecycleActive,
		Reason:    ReasonHealthy,
	}
	switch quantity.Outcome {
	case models.OutcomeConfirmed:
		count := quantity.Value
		out.QuantityStatus = models.QuantityConfirmed
		out.QuantityMetric = &count
	default:
		out.QuantityStatus = models.QuantityUnknown
	}
	return out
}

// passwordWall detects the storefront password page via its form markup or
// known phrases.
func (s *Service) passwordWall(root *probe.Response, body string) bool {
	if containsAny(body, passwordMarkers) {
		return true
	}
	doc, err := root.Document()
	if err != nil {
		return false
	}
	return doc.Find(`form input[type="password"]`).Length() > 0
}

// quantity probes the canonical catalog-count endpoint. Confirmed counts
// include a legitimate zero; any non-throttle failure is unknown.
func (s *Service) quantity(ctx context.Context, origin string) models.Detection[int] {
	resp, err := s.fetch(ctx, origin+countPath)
	if err != nil {
		return models.NoSignal[int]()
	}
	if resp.RateLimited() {
		return models.RateLimited[int]()
	}
	if !resp.OK() {
		return models.NoSignal[int]()
	}

	var payload struct {
		Count *int `json:"count"`
	}
	if err := resp.JSON(&payload); err != nil || payload.Count == nil {
		return models.NoSignal[int]()
	}
	return models.Detected(*payload.Count)
}

func (s *Service) fetch(ctx context.Context, url string) (*probe.Response, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.fetcher.Fetch(probeCtx, url)
}

func containsAny(body string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
