package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-User-Agent-Seen", r.UserAgent())
		w.Header().Set("X-Trace-Seen", r.Header.Get("X-Trace"))
		_, _ = w.Write([]byte("\x89PNG-bytes"))
	})
	mux.HandleFunc("/missing.png", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/slow.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "image/png")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	f := New(Config{UserAgent: "coverage-agent/1.0", Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{
		URL:     server.URL + "/a.png",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Headers.Get("Content-Type"))
	assert.Equal(t, "coverage-agent/1.0", resp.Headers.Get("X-User-Agent-Seen"))
	assert.Equal(t, "yes", resp.Headers.Get("X-Trace-Seen"))
	assert.Equal(t, []byte("\x89PNG-bytes"), resp.Body)
	assert.Equal(t, server.URL+"/a.png", resp.URL)
}

func TestFetchAllowsRevisits(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	f := New(Config{Timeout: time.Second})
	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/a.png"})
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, "UbuntuFetcher/1.0", resp.Headers.Get("X-User-Agent-Seen"))
	}
}

func TestFetchDeliversNon2xxAsResponse(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	f := New(Config{Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/missing.png"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchTimeoutIsNetworkError(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	f := New(Config{Timeout: 100 * time.Millisecond})
	_, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/slow.png"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrNetwork)
	assert.Equal(t, ingest.ErrorKindNetwork, ingest.Classify(err))
}

func TestFetchHonorsCancellation(t *testing.T) {
	t.Parallel()

	server := newImageServer(t)
	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := f.Fetch(ctx, ingest.FetchRequest{URL: server.URL + "/slow.png"})
	require.Error(t, err)
	assert.Equal(t, ingest.ErrorKindCanceled, ingest.Classify(err))
}

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", MaxBodyBytes: 1024})
	ctx := context.Background()
	collector := f.buildCollector(ctx, ingest.FetchRequest{URL: "https://example.com"}, time.Unix(0, 0), &ingest.FetchResponse{}, new(error))
	assert.Equal(t, "coverage-agent", collector.UserAgent)
	assert.True(t, collector.ParseHTTPErrorResponse)
	assert.Equal(t, 1024, collector.MaxBodySize)
	assert.Equal(t, ctx, collector.Context)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := ingest.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result ingest.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	assert.Equal(t, acceptHeader, collyReq.Headers.Get("Accept"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"image/gif"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/final.gif"),
		},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "body", string(result.Body))
	assert.Equal(t, "image/gif", result.Headers.Get("Content-Type"))
	assert.Equal(t, "https://example.com/final.gif", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	collyReq := &colly.Request{Headers: &http.Header{}}
	f.copyHeaders(ingest.FetchRequest{}, collyReq)
	assert.Empty(t, *collyReq.Headers)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	f := New(Config{Timeout: time.Second, RespectRobots: true})

	_, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/private/a.png"})
	require.Error(t, err)
	assert.Equal(t, ingest.ErrorKindInvalidRequest, ingest.Classify(err))

	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/public/a.png"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ignoring := New(Config{Timeout: time.Second})
	resp, err = ignoring.Fetch(context.Background(), ingest.FetchRequest{URL: server.URL + "/private/a.png"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
