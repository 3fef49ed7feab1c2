package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/imagefetch/internal/ingest"
	"github.com/JakeFAU/imagefetch/internal/policy/ratelimit"
)

func TestBlocklist(t *testing.T) {
	t.Parallel()

	b := NewBlocklist([]string{" Ads.Example.com ", "*.tracker.net", ".cdn.test", "", "*."})
	require.NotNil(t, b)

	tests := []struct {
		host    string
		blocked bool
	}{
		{"ads.example.com", true},
		{"ADS.EXAMPLE.COM", true},
		{"img.example.com", false},
		{"tracker.net", true},
		{"a.b.tracker.net", true},
		{"nottracker.net", false},
		{"x.cdn.test", true},
		{"", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.blocked, b.Blocked(tc.host), tc.host)
	}
}

func TestBlocklist_EmptyIsNil(t *testing.T) {
	t.Parallel()

	b := NewBlocklist([]string{" ", ""})
	assert.Nil(t, b)
	assert.False(t, b.Blocked("example.com"))
}

type stubFetcher struct {
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	s.calls++
	return ingest.FetchResponse{URL: req.URL, StatusCode: 200}, nil
}

type stubLimiter struct {
	hosts []string
	err   error
}

func (s *stubLimiter) Wait(_ context.Context, host string) error {
	s.hosts = append(s.hosts, host)
	return s.err
}

func TestFetcher_BlockedHostIsInvalidRequest(t *testing.T) {
	t.Parallel()

	next := &stubFetcher{}
	limiter := &stubLimiter{}
	f := Wrap(next, NewBlocklist([]string{"*.blocked.test"}), limiter, nil)

	_, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: "https://img.blocked.test/a.png"})
	require.Error(t, err)
	assert.Equal(t, ingest.ErrorKindInvalidRequest, ingest.Classify(err))
	assert.Zero(t, next.calls)
	assert.Empty(t, limiter.hosts)
}

func TestFetcher_WaitsPerHostThenDelegates(t *testing.T) {
	t.Parallel()

	next := &stubFetcher{}
	limiter := &stubLimiter{}
	f := Wrap(next, nil, limiter, nil)

	resp, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: "https://Example.com:8443/a.png"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []string{"example.com"}, limiter.hosts)
	assert.Equal(t, 1, next.calls)
}

func TestFetcher_LimiterErrorStopsFetch(t *testing.T) {
	t.Parallel()

	next := &stubFetcher{}
	f := Wrap(next, nil, &stubLimiter{err: errors.New("rate limit wait: context canceled")}, nil)

	_, err := f.Fetch(context.Background(), ingest.FetchRequest{URL: "https://example.com/a.png"})
	require.Error(t, err)
	assert.Equal(t, ingest.ErrorKindCanceled, ingest.Classify(err))
	assert.Zero(t, next.calls)
}

func TestFetcher_WaitPastDeadlineIsCanceled(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{RPS: 0.1, Burst: 1})
	require.NoError(t, limiter.Wait(context.Background(), "example.com"))

	next := &stubFetcher{}
	f := Wrap(next, nil, limiter, nil)

	// The next token is ten seconds away; the limiter refuses up front
	// while the context is still live.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Fetch(ctx, ingest.FetchRequest{URL: "https://example.com/a.png"})

	require.Error(t, err)
	require.NoError(t, ctx.Err())
	assert.Equal(t, ingest.ErrorKindCanceled, ingest.Classify(err))
	assert.Zero(t, next.calls)
}

func TestFetcher_WaitUsesBatchContextWhenDetached(t *testing.T) {
	t.Parallel()

	limiter := &stubLimiter{err: context.Canceled}
	batch, cancel := context.WithCancel(context.Background())
	cancel()
	detached := ingest.Detach(batch)

	var seen context.Context
	f := Wrap(&stubFetcher{}, nil, hostLimiterFunc(func(ctx context.Context, host string) error {
		seen = ctx
		return limiter.Wait(ctx, host)
	}), nil)

	_, err := f.Fetch(detached, ingest.FetchRequest{URL: "https://example.com/a.png"})
	require.Error(t, err)
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}

type hostLimiterFunc func(ctx context.Context, host string) error

func (fn hostLimiterFunc) Wait(ctx context.Context, host string) error { return fn(ctx, host) }
