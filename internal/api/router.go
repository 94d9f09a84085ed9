package api

import (
	"net/http"

	v1 "github.com/flexprice/creditsync/internal/api/v1"
	"github.com/flexprice/creditsync/internal/config"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health  *v1.HealthHandler
	Webhook *v1.WebhookHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	router := gin.New()
	// wrong methods on a known path get a 405 instead of a 404
	router.HandleMethodNotAllowed = true

	router.Use(gin.Recovery(), middleware.RequestIDMiddleware)
	router.Use(middleware.SentryMiddleware(cfg)...)
	router.Use(
		middleware.RequestLogger(logger),
		middleware.ErrorHandler(),
	)

	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, middleware.NewErrorResponse(
			ierr.NewError("method not allowed").
				WithHintf("Method %s is not allowed on %s", c.Request.Method, c.Request.URL.Path).
				Mark(ierr.ErrInvalidOperation),
		))
	})

	router.GET("/health", handlers.Health.Health)

	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/stripe", handlers.Webhook.HandleStripeWebhook)
	}

	return router
}
