// Package verify scores how likely a candidate is to be a live Shopify
// storefront. It runs a fixed battery of independent probes; each success
// adds its weight, and failures of any kind contribute nothing. Absence of
// evidence never subtracts: the aggregate is always at least the sum of the
// positively confirmed signals.
package verify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storescout/internal/candidate/models"
	"storescout/internal/platform/metrics"
	"storescout/internal/platform/probe"
	"storescout/pkg/canonical"
)

// Signal names persisted to the candidate's signal map. Persisting every
// probe outcome lets the score be recomputed later without re-probing.
const (
	SignalCartEndpoint     = "cart_endpoint"
	SignalPlatformHeader   = "platform_header"
	SignalProductsJSON     = "products_json"
	SignalAssetFingerprint = "asset_fingerprint"
	SignalHostedSubdomain  = "hosted_subdomain"
)

// Shopify's public probe surface.
const (
	cartPath         = "/cart.js"
	productsPath     = "/products.json"
	assetFingerprint = "cdn.shopify.com"
	hostedSuffix     = ".myshopify.com"
)

// Outcome is the result of one verification pass.
type Outcome struct {
	Confidence float64
	Status     models.PlatformStatus
	Signals    map[string]bool
}

// Service runs the probe battery.
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

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// New constructs a verification service around a probe fetcher.
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

// signalProbe couples a named signal with its weight and check. Weights
// follow evidentiary strength: behavioural endpoints beat spoofable headers
// beat naming conventions. The aggregate is clamped to [0, 1].
type signalProbe struct {
	name   string
	weight float64
	check  func(ctx context.Context, origin, canonicalURL string) (bool, error)
}

func (s *Service) battery() []signalProbe {
	return []signalProbe{
		{SignalCartEndpoint, 0.40, s.checkCartEndpoint},
		{SignalPlatformHeader, 0.30, s.checkPlatformHeader},
		{SignalProductsJSON, 0.20, s.checkProductsJSON},
		{SignalAssetFingerprint, 0.15, s.checkAssetFingerprint},
		{SignalHostedSubdomain, 0.10, s.checkHostedSubdomain},
	}
}

// Verify probes the candidate's origin and aggregates the weighted score.
// origin is the fetchable base URL for the canonical identity (usually
// canonical.BaseURL). Probes run concurrently into a fixed-shape result
// slice; a failure in one probe never aborts the others.
func (s *Service) Verify(ctx context.Context, canonicalURL, origin string) *Outcome {
	if origin == "" {
		origin = canonical.BaseURL(canonicalURL)
	}
	battery := s.battery()
	results := make([]bool, len(battery))

	var wg sync.WaitGroup
	for i, sp := range battery {
		i, sp := i, sp
		wg.Add(1)
		go func() {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			ok, err := sp.check(probeCtx, origin, canonicalURL)
			if err != nil {
				// Timeout and transport errors read as "signal absent".
				s.logger.DebugContext(ctx, "probe failed",
					"canonical_url", canonicalURL,
					"probe", sp.name,
					"error", err,
				)
				ok = false
			}
			results[i] = ok
			s.observeProbe(sp.name, ok)
		}()
	}
	wg.Wait()

	confidence := 0.0
	signals := make(map[string]bool, len(battery))
	for i, sp := range battery {
		signals[sp.name] = results[i]
		if results[i] {
			confidence += sp.weight
		}
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	outcome := &Outcome{
		Confidence: confidence,
		Status:     models.StatusForConfidence(confidence),
		Signals:    signals,
	}
	s.logger.InfoContext(ctx, "verification scored",
		"canonical_url", canonicalURL,
		"confidence", outcome.Confidence,
		"status", outcome.Status,
	)
	return outcome
}

// checkCartEndpoint is the strongest behavioural proof: only a real Shopify
// storefront serves a structurally valid cart session document.
func (s *Service) checkCartEndpoint(ctx context.Context, origin, _ string) (bool, error) {
	resp, err := s.fetcher.Fetch(ctx, origin+cartPath)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}

	var cart struct {
		Token string `json:"token"`
		Items []any  `json:"items"`
	}
	if err := resp.JSON(&cart); err != nil {
		return false, nil
	}
	return cart.Token != "" || cart.Items != nil, nil
}

// checkPlatformHeader looks for the platform-identifying response headers.
// Strong but spoofable, hence below the behavioural probe.
func (s *Service) checkPlatformHeader(ctx context.Context, origin, _ string) (bool, error) {
	resp, err := s.fetcher.Fetch(ctx, origin)
	if err != nil {
		return false, err
	}
	if resp.Header.Get("X-ShopId") != "" || resp.Header.Get("X-Shopify-Stage") != "" {
		return true, nil
	}
	return strings.EqualFold(resp.Header.Get("Powered-By"), "Shopify"), nil
}

// checkProductsJSON wants a well-formed product array, even an empty one;
// shape is the signal here, contents belong to the health check.
func (s *Service) checkProductsJSON(ctx context.Context, origin, _ string) (bool, error) {
	resp, err := s.fetcher.Fetch(ctx, origin+productsPath)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}

	var payload struct {
		Products []any `json:"products"`
	}
	if err := resp.JSON(&payload); err != nil {
		return false, nil
	}
	return payload.Products != nil, nil
}

// checkAssetFingerprint scans the root markup for the platform CDN host.
func (s *Service) checkAssetFingerprint(ctx context.Context, origin, _ string) (bool, error) {
	resp, err := s.fetcher.Fetch(ctx, origin)
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, nil
	}

	doc, err := resp.Document()
	if err != nil {
		return false, nil
	}

	found := false
	doc.Find("script[src], link[href], img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		for _, attr := range []string{"src", "href"} {
			if v, ok := sel.Attr(attr); ok && strings.Contains(v, assetFingerprint) {
				found = true
				return false
			}
		}
		return true
	})
	if found {
		return true, nil
	}
	// Inline scripts reference the CDN too.
	return strings.Contains(string(resp.Body), assetFingerprint), nil
}

// checkHostedSubdomain is pure string evidence, the weakest signal.
func (s *Service) checkHostedSubdomain(_ context.Context, _, canonicalURL string) (bool, error) {
	host := canonicalURL
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.HasSuffix(host, hostedSuffix), nil
}

func (s *Service) observeProbe(name string, ok bool) {
	if s.meter == nil {
		return
	}
	outcome := "absent"
	if ok {
		outcome = "confirmed"
	}
	s.meter.ObserveProbe(name, outcome)
}
