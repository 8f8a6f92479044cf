package classify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"

	"storescout/internal/platform/probe"
)

type ClassifySuite struct {
	suite.Suite
	ctx context.Context
}

func TestClassifySuite(t *testing.T) {
	suite.Run(t, new(ClassifySuite))
}

func (s *ClassifySuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ClassifySuite) classify(markup string) *Outcome {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(markup))
	}))
	defer server.Close()

	service := New(probe.New(probe.WithHTTPClient(server.Client())))
	return service.Classify(s.ctx, "example.test", server.URL)
}

func (s *ClassifySuite) TestFullStorefront() {
	out := s.classify(`<html lang="en-US"><head>
		<title>Ranger Threads - Home</title>
		<meta property="og:site_name" content="Ranger Threads">
		<script>Shopify.theme = {"name":"Dawn","id":9,"role":"main"};</script>
		<script src="https://connect.facebook.net/en_US/fbevents.js"></script>
	</head><body>
		Streetwear hoodies and denim jackets for every season.
	</body></html>`)

	s.True(out.DisplayName.Confirmed())
	s.Equal("Ranger Threads", out.DisplayName.Value)
	s.True(out.Locale.Confirmed())
	s.Equal("en-us", out.Locale.Value)
	s.True(out.VisualTheme.Confirmed())
	s.Equal("Dawn", out.VisualTheme.Value)
	s.Equal(CategoryApparel, out.PrimaryCategory)
	s.Equal([]string{CategoryApparel, TagAdvertised}, out.CategoryTags)
}

func (s *ClassifySuite) TestTitleFallbackForDisplayName() {
	out := s.classify(`<html><head><title>Plain Goods</title></head><body>hi</body></html>`)
	s.True(out.DisplayName.Confirmed())
	s.Equal("Plain Goods", out.DisplayName.Value)
}

func (s *ClassifySuite) TestApparelOutranksBeauty() {
	out := s.classify(`<html><body>
		Hoodie and denim sets, plus skincare serum bundles and makeup kits.
	</body></html>`)
	s.Equal(CategoryApparel, out.PrimaryCategory)
	s.Equal([]string{CategoryApparel}, out.CategoryTags)
}

func (s *ClassifySuite) TestBeautyWhenApparelSilent() {
	out := s.classify(`<html><body>
		Skincare routines, serum drops, and clean makeup.
	</body></html>`)
	s.Equal(CategoryBeauty, out.PrimaryCategory)
}

func (s *ClassifySuite) TestSingleKeywordIsNotEnough() {
	out := s.classify(`<html><body>One lonely hoodie mention.</body></html>`)
	s.Equal(CategoryGeneral, out.PrimaryCategory)
	s.Equal([]string{CategoryGeneral}, out.CategoryTags)
}

func (s *ClassifySuite) TestReadablePageWithoutSignalsIsGeneral() {
	out := s.classify(`<html><body>Hand-thrown ceramics from our studio.</body></html>`)
	s.Equal(CategoryGeneral, out.PrimaryCategory)
	s.False(out.DisplayName.Confirmed())
	s.False(out.VisualTheme.Confirmed())
	s.NotEmpty(out.CategoryTags)
}

func (s *ClassifySuite) TestUnreachablePageIsUnclassified() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	service := New(probe.New(probe.WithHTTPClient(server.Client())))
	out := service.Classify(s.ctx, "example.test", server.URL)

	s.Equal(CategoryUnclassified, out.PrimaryCategory)
	s.Equal([]string{CategoryUnclassified}, out.CategoryTags)
	s.Zero(out.CategoryConfidence)
}

func (s *ClassifySuite) TestAdvertisedTagRidesAlongside() {
	out := s.classify(`<html><body>
		<script>gtag('config', 'AW-1');</script>
		Skincare serum and fragrance gifts.
	</body></html>`)
	s.Equal(CategoryBeauty, out.PrimaryCategory)
	s.Contains(out.CategoryTags, TagAdvertised)
	s.Equal(CategoryBeauty, out.CategoryTags[0])
}

func (s *ClassifySuite) TestUpdateSkipsUnconfirmedFields() {
	out := s.classify(`<html><body>Nothing to see.</body></html>`)
	update := out.Update()
	s.Empty(update.DisplayName)
	s.Empty(update.Locale)
	s.Empty(update.VisualTheme)
	s.Equal(CategoryGeneral, update.PrimaryCategory)
}
