package middleware

import (
	"time"

	"github.com/flexprice/creditsync/internal/config"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
)

// SentryMiddleware attaches a sentry hub to every request and tags its scope
// with the request id. It is empty when sentry is disabled.
func SentryMiddleware(cfg *config.Configuration) []gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return nil
	}

	return []gin.HandlerFunc{
		sentrygin.New(sentrygin.Options{
			Repanic: true,
			Timeout: 2 * time.Second,
		}),
		func(c *gin.Context) {
			if hub := sentrygin.GetHubFromContext(c); hub != nil {
				hub.ConfigureScope(func(scope *sentry.Scope) {
					scope.SetTag("request_id", types.GetRequestID(c.Request.Context()))
				})
			}
			c.Next()
		},
	}
}
