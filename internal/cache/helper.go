package cache

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// startSpan opens a sentry span for a cache lookup. It returns nil when the
// request carries no hub.
func startSpan(ctx context.Context, backend, operation, key string) *sentry.Span {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "cache."+operation)
	span.Description = backend + " " + operation
	span.SetData("cache.backend", backend)
	span.SetData("cache.key", key)
	return span
}

// finishSpan records whether the lookup hit and closes the span
func finishSpan(span *sentry.Span, hit bool) {
	if span == nil {
		return
	}
	span.SetData("cache.hit", hit)
	span.Status = sentry.SpanStatusOK
	span.Finish()
}
