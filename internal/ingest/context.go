package ingest

import "context"

type issueKey struct{}

// Detach returns a context that is never canceled but keeps ctx's values.
// Work that has already been issued runs under it, bounded only by its own
// timeouts. IssueContext recovers ctx for steps that still gate issuing.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), issueKey{}, ctx)
}

// IssueContext returns the context that was passed to Detach, or ctx itself
// when it was never detached.
func IssueContext(ctx context.Context) context.Context {
	if parent, ok := ctx.Value(issueKey{}).(context.Context); ok {
		return parent
	}
	return ctx
}
