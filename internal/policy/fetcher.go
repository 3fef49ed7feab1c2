// Package policy decides whether and when a URL may be fetched.
package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/imagefetch/internal/ingest"
)

// HostLimiter throttles requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, host string) error
}

// Fetcher guards another ingest.Fetcher with a host blocklist and an
// optional per-host limiter.
type Fetcher struct {
	next      ingest.Fetcher
	blocklist *Blocklist
	limiter   HostLimiter
	logger    *zap.Logger
}

var _ ingest.Fetcher = (*Fetcher)(nil)

// Wrap returns next guarded by blocklist and limiter; either may be nil.
func Wrap(next ingest.Fetcher, blocklist *Blocklist, limiter HostLimiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:      next,
		blocklist: blocklist,
		limiter:   limiter,
		logger:    logger.Named("policy"),
	}
}

// Fetch rejects blocked hosts as invalid requests, waits for the host's
// token, then delegates. A wait cut short by the batch context, including
// one that would outlast its deadline, is reported as ErrCanceled.
func (f *Fetcher) Fetch(ctx context.Context, request ingest.FetchRequest) (ingest.FetchResponse, error) {
	host := hostOf(request.URL)
	if f.blocklist.Blocked(host) {
		f.logger.Debug("host blocked", zap.String("url", request.URL), zap.String("host", host))
		return ingest.FetchResponse{}, fmt.Errorf("%w: host %q is blocked", ingest.ErrInvalidURL, host)
	}
	// Waiting for a token happens before the request is issued, so it
	// stops with the batch even when the fetch itself is detached.
	if f.limiter != nil {
		if err := f.limiter.Wait(ingest.IssueContext(ctx), host); err != nil {
			return ingest.FetchResponse{}, fmt.Errorf("%w: %w", ingest.ErrCanceled, err)
		}
	}
	resp, err := f.next.Fetch(ctx, request)
	if err != nil {
		return ingest.FetchResponse{}, err
	}
	return resp, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
