package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"storescout/pkg/platform/circuit"
)

func TestFetchNonThrowingStatuses(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"ready":true}`))
		case "/gone":
			http.Error(w, "not here", http.StatusNotFound)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	ctx := context.Background()

	resp, err := client.Fetch(ctx, server.URL+"/ok")
	require.NoError(t, err)
	require.True(t, resp.OK())

	var body struct {
		Ready bool `json:"ready"`
	}
	require.NoError(t, resp.JSON(&body))
	require.True(t, body.Ready)

	resp, err = client.Fetch(ctx, server.URL+"/gone")
	require.NoError(t, err, "4xx must not be an error")
	require.False(t, resp.OK())
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Fetch(ctx, server.URL+"/limited")
	require.NoError(t, err, "429 must not be an error")
	require.True(t, resp.RateLimited())
}

func TestFetchRedirectBound(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	hops := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hops++
		http.Redirect(w, r, fmt.Sprintf("%s/loop%d", server.URL, hops), http.StatusFound)
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	_, err := client.Fetch(context.Background(), server.URL)
	require.Error(t, err, "unbounded redirect loops must be cut off")
}

type stubFetcher struct {
	resp *Response
}

func (s *stubFetcher) Fetch(context.Context, string) (*Response, error) {
	return s.resp, nil
}

func TestFetchFallback(t *testing.T) {
	t.Parallel()

	// A server that is immediately closed guarantees a transport failure.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	fallback := &stubFetcher{resp: &Response{StatusCode: http.StatusOK, Body: []byte("rendered")}}
	client := New(WithFallback(fallback))

	resp, err := client.Fetch(context.Background(), deadURL)
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
}

func TestResponseDocument(t *testing.T) {
	t.Parallel()

	resp := &Response{Body: []byte(`<html><body><a href="/products/tee">Tee</a></body></html>`)}
	doc, err := resp.Document()
	require.NoError(t, err)
	require.Equal(t, 1, doc.Find(`a[href*="/products/"]`).Length())
}

func TestFetchBreakerPrefersFallbackWhenOpen(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := server.URL
	server.Close()

	fallback := &stubFetcher{resp: &Response{StatusCode: http.StatusOK, Body: []byte("rendered")}}
	breaker := circuit.New("direct", circuit.WithFailureThreshold(2))
	client := New(WithFallback(fallback), WithBreaker(breaker))

	// Two transport failures open the breaker; both are served by fallback.
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := client.Fetch(context.Background(), deadURL)
		require.NoError(t, err)
		require.Equal(t, "rendered", string(resp.Body))
	}
	require.True(t, breaker.IsOpen())

	// While open the direct path is skipped entirely, so a dead URL still
	// answers from the fallback.
	resp, err := client.Fetch(context.Background(), deadURL)
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
}
