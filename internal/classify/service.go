// Package classify derives the descriptive attribute set for a candidate:
// display name, locale, visual theme, and category tags. Detectors run
// independently and settle together; one detector finding nothing never
// aborts its siblings, and a missing value is stored as absent instead of
// invented. The tag set is never empty: a candidate the detectors cannot
// read gets the explicit "unclassified" sentinel so downstream filters have
// a stable value to match.
package classify

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storescout/internal/candidate/models"
	"storescout/internal/platform/metrics"
	"storescout/internal/platform/probe"
	"storescout/pkg/canonical"
	pstrings "storescout/pkg/platform/strings"
)

// Category tags. Priority runs top to bottom: when keywords for more than
// one category fire, apparel wins over beauty. A page that reads fine but
// matches nothing falls back to the general catch-all.
const (
	CategoryApparel      = "apparel"
	CategoryBeauty       = "beauty"
	CategoryGeneral      = "general"
	CategoryUnclassified = "unclassified"

	TagAdvertised = "advertised"
)

// categoryRules in priority order. First rule with enough hits wins.
var categoryRules = []struct {
	tag      string
	keywords []string
}{
	{CategoryApparel, []string{
		"apparel", "clothing", "t-shirt", "tshirt", "hoodie", "dress",
		"streetwear", "sneaker", "jacket", "denim",
	}},
	{CategoryBeauty, []string{
		"skincare", "makeup", "cosmetic", "beauty", "serum", "fragrance",
		"lipstick", "moisturizer",
	}},
}

// adMarkers are script hosts and calls left behind by active ad campaigns.
var adMarkers = []string{
	"connect.facebook.net",
	"fbq(",
	"googletagmanager.com",
	"gtag(",
	"snap.licdn.com",
	"analytics.tiktok.com",
}

var themeAssignRe = regexp.MustCompile(`Shopify\.theme\s*=\s*(\{[^;]*\})`)

// Outcome carries each detector's tagged result plus the joined tag set.
type Outcome struct {
	DisplayName models.Detection[string]
	Locale      models.Detection[string]
	VisualTheme models.Detection[string]
	Category    models.Detection[string]
	Advertised  bool

	PrimaryCategory    string
	CategoryTags       []string
	CategoryConfidence float64
}

// Update converts the outcome into the store's field-scoped write. Empty
// strings leave existing values untouched.
func (o *Outcome) Update() models.ClassificationUpdate {
	update := models.ClassificationUpdate{
		PrimaryCategory:    o.PrimaryCategory,
		CategoryTags:       o.CategoryTags,
		CategoryConfidence: o.CategoryConfidence,
	}
	if o.DisplayName.Confirmed() {
		update.DisplayName = o.DisplayName.Value
	}
	if o.Locale.Confirmed() {
		update.Locale = o.Locale.Value
	}
	if o.VisualTheme.Confirmed() {
		update.VisualTheme = o.VisualTheme.Value
	}
	return update
}

// Service runs the classification detectors.
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

// New constructs a classifier.
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

// Classify fetches the storefront once and runs every detector over the
// same document. Detectors settle independently; the joined result always
// carries a non-empty tag set.
func (s *Service) Classify(ctx context.Context, canonicalURL, origin string) *Outcome {
	if origin == "" {
		origin = canonical.BaseURL(canonicalURL)
	}

	outcome := &Outcome{
		DisplayName: models.NoSignal[string](),
		Locale:      models.NoSignal[string](),
		VisualTheme: models.NoSignal[string](),
		Category:    models.NoSignal[string](),
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.fetcher.Fetch(probeCtx, origin)
	if err != nil || !resp.OK() {
		outcome.PrimaryCategory = CategoryUnclassified
		outcome.CategoryTags = []string{CategoryUnclassified}
		s.observe(ctx, canonicalURL, outcome)
		return outcome
	}

	doc, docErr := resp.Document()
	body := strings.ToLower(string(resp.Body))

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if docErr == nil {
		run(func() { outcome.DisplayName = detectDisplayName(doc) })
		run(func() { outcome.Locale = detectLocale(doc) })
	}
	run(func() { outcome.VisualTheme = detectTheme(resp.Body) })
	run(func() { outcome.Category = detectCategory(body) })
	run(func() { outcome.Advertised = containsAny(body, adMarkers) })
	wg.Wait()

	outcome.join()
	s.observe(ctx, canonicalURL, outcome)
	return outcome
}

// join resolves the final tag set from the settled detectors.
func (o *Outcome) join() {
	switch {
	case o.Category.Confirmed():
		o.PrimaryCategory = o.Category.Value
		o.CategoryConfidence = 0.8
	default:
		o.PrimaryCategory = CategoryGeneral
		o.CategoryConfidence = 0.3
	}
	tags := []string{o.PrimaryCategory}
	if o.Advertised {
		tags = append(tags, TagAdvertised)
	}
	o.CategoryTags = pstrings.DedupeAndTrimLower(tags)
}

func (s *Service) observe(ctx context.Context, canonicalURL string, o *Outcome) {
	if s.meter != nil {
		s.meter.ObserveProbe("classify", o.PrimaryCategory)
	}
	s.logger.InfoContext(ctx, "classification finished",
		"canonical_url", canonicalURL,
		"primary_category", o.PrimaryCategory,
		"display_name", o.DisplayName.Value,
		"locale", o.Locale.Value,
		"visual_theme", o.VisualTheme.Value,
		"advertised", o.Advertised,
	)
}

// detectDisplayName prefers the og:site_name meta tag and falls back to the
// document title.
func detectDisplayName(doc *goquery.Document) models.Detection[string] {
	if name, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		if name = strings.TrimSpace(name); name != "" {
			return models.Detected(name)
		}
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return models.Detected(title)
	}
	return models.NoSignal[string]()
}

// detectLocale reads the html lang attribute.
func detectLocale(doc *goquery.Document) models.Detection[string] {
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
			return models.Detected(lang)
		}
	}
	return models.NoSignal[string]()
}

// detectTheme pulls the theme name out of the inline Shopify.theme
// assignment the platform embeds in every storefront page.
func detectTheme(body []byte) models.Detection[string] {
	match := themeAssignRe.FindSubmatch(body)
	if match == nil {
		return models.NoSignal[string]()
	}
	var theme struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(match[1], &theme); err != nil || theme.Name == "" {
		return models.NoSignal[string]()
	}
	return models.Detected(theme.Name)
}

// detectCategory scans the lowercased page text against the ordered rules.
// Two keyword hits are required so a single stray word cannot classify a
// store.
func detectCategory(body string) models.Detection[string] {
	for _, rule := range categoryRules {
		hits := 0
		for _, keyword := range rule.keywords {
			if strings.Contains(body, keyword) {
				hits++
			}
		}
		if hits >= 2 {
			return models.Detected(rule.tag)
		}
	}
	return models.NoSignal[string]()
}

func containsAny(body string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
