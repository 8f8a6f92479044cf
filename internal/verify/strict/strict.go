// Package strict is the fail-closed verification overlay. Where the scoring
// battery treats missing evidence as neutral, this overlay treats any
// inability to positively confirm health as a terminal negative: a store we
// cannot prove alive is dead or inactive, never "unknown".
//
// It is deliberately independent of the confidence score. A storefront can
// match every platform fingerprint and still be a suspended account; the
// final verified flag requires both components to agree.
package strict

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"storescout/internal/candidate/models"
	"storescout/internal/platform/metrics"
	"storescout/internal/platform/probe"
	"storescout/pkg/canonical"
)

// Reasons recorded on the candidate for audit.
const (
	ReasonRootUnreachable = "root_unreachable"
	ReasonInactiveMarker  = "inactive_marker"
	ReasonEmptyCatalog    = "empty_catalog"
)

// inactiveMarkers are phrases the platform serves for suspended, expired,
// or closed accounts. Matched case-insensitively against the root document.
var inactiveMarkers = []string{
	"this store is unavailable",
	"this shop is currently unavailable",
	"store has been suspended",
	"trial has expired",
	"account is inactive",
	"this store is closed",
}

// Catalog endpoints, tried in order before falling back to markup scanning.
const (
	primaryCatalogPath   = "/products.json"
	secondaryCatalogPath = "/collections/all/products.json"
	listingPath          = "/collections/all"
)

// Result is the overlay's verdict.
type Result struct {
	Verified bool
	Active   bool
	Status   models.LifecycleStatus
	Reasons  []string
}

// Service runs the ordered strict checks.
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

// New constructs the strict overlay service.
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

// Check runs the ordered checks, short-circuiting on the first failure.
func (s *Service) Check(ctx context.Context, canonicalURL, origin string) *Result {
	if origin == "" {
		origin = canonical.BaseURL(canonicalURL)
	}

	result := s.check(ctx, origin)
	s.observe(result)
	s.logger.InfoContext(ctx, "strict check finished",
		"canonical_url", canonicalURL,
		"status", result.Status,
		"reasons", result.Reasons,
	)
	return result
}

func (s *Service) check(ctx context.Context, origin string) *Result {
	// 1. The root document must answer with success.
	root, err := s.fetch(ctx, origin)
	if err != nil || !root.OK() {
		return &Result{Status: models.LifecycleDead, Reasons: []string{ReasonRootUnreachable}}
	}

	// 2. No platform inactive-account marker in the body.
	body := strings.ToLower(string(root.Body))
	for _, marker := range inactiveMarkers {
		if strings.Contains(body, marker) {
			return &Result{Status: models.LifecycleInactivePlatform, Reasons: []string{ReasonInactiveMarker}}
		}
	}

	// 3. At least one catalog source must yield a non-empty collection.
	if !s.catalogNonEmpty(ctx, origin, root) {
		return &Result{Status: models.LifecycleDead, Reasons: []string{ReasonEmptyCatalog}}
	}

	return &Result{Verified: true, Active: true, Status: models.LifecycleActive}
}

// catalogNonEmpty tries the primary JSON endpoint, then the secondary, then
// scans the listing markup for product links.
func (s *Service) catalogNonEmpty(ctx context.Context, origin string, root *probe.Response) bool {
	for _, path := range []string{primaryCatalogPath, secondaryCatalogPath} {
		resp, err := s.fetch(ctx, origin+path)
		if err != nil || !resp.OK() {
			continue
		}
		var payload struct {
			Products []any `json:"products"`
		}
		if err := resp.JSON(&payload); err != nil {
			continue
		}
		if len(payload.Products) > 0 {
			return true
		}
	}

	// Markup fallback: the listing page, or failing that the root document,
	// must link at least one product.
	listing, err := s.fetch(ctx, origin+listingPath)
	if err != nil || !listing.OK() {
		listing = root
	}
	doc, err := listing.Document()
	if err != nil {
		return false
	}
	return doc.Find(`a[href*="/products/"]`).Length() > 0
}

func (s *Service) fetch(ctx context.Context, url string) (*probe.Response, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.fetcher.Fetch(probeCtx, url)
}

func (s *Service) observe(result *Result) {
	if s.meter == nil {
		return
	}
	outcome := "active"
	if len(result.Reasons) > 0 {
		outcome = result.Reasons[0]
	}
	s.meter.ObserveProbe("strict_overlay", outcome)
}
