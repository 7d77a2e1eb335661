package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPFetcherExtractsLinksAndImages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`
			<html>
			<head><title>  Demo Site  </title></head>
			<body>
				<a href="/about">About</a>
				<a href="/about#team">Team</a>
				<a href="contact.html">Contact</a>
				<a href="https://external.test/page">External</a>
				<a href="mailto:hi@demo.test">Mail</a>
				<a href="javascript:void(0)">JS</a>
				<img src="/img/logo.png">
				<img src="/img/logo.png">
				<img src="banner.jpg">
			</body>
			</html>
		`))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	defer fetcher.Close()

	result, err := fetcher.Fetch(context.Background(), srv.URL+"/index.html")
	require.NoError(t, err)

	require.Equal(t, 200, result.StatusCode)
	require.Equal(t, "text/html", result.ContentType)
	require.Equal(t, "Demo Site", result.Title)
	require.Positive(t, result.SizeBytes)
	require.GreaterOrEqual(t, result.LoadTimeMs, int64(0))

	// Fragment collapsed, relatives resolved, external kept (the engine
	// filters hosts), non-http schemes dropped.
	require.Equal(t, []string{
		srv.URL + "/about",
		srv.URL + "/contact.html",
		"https://external.test/page",
	}, result.Links)

	require.Equal(t, []string{
		srv.URL + "/img/logo.png",
		srv.URL + "/banner.jpg",
	}, result.Images)
}

func TestHTTPFetcherClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(5 * time.Second)
	defer fetcher.Close()

	result, err := fetcher.Fetch(context.Background(), srv.URL+"/missing")
	require.NoError(t, err)
	require.Equal(t, 404, result.StatusCode)
	require.Empty(t, result.Links)
	require.Empty(t, result.Images)
}

func TestHTTPFetcherNavigationError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from now on

	fetcher := NewHTTPFetcher(time.Second)
	defer fetcher.Close()

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestHTTPFetcherRespectsContext(t *testing.T) {
	t.Parallel()

	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	fetcher := NewHTTPFetcher(10 * time.Second)
	defer fetcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := fetcher.Fetch(ctx, srv.URL)
	require.Error(t, err)
}
