package v1

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/flexprice/creditsync/internal/config"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/rest/middleware"
	"github.com/flexprice/creditsync/internal/sentry"
	"github.com/flexprice/creditsync/internal/service"
	"github.com/flexprice/creditsync/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
)

// EventVerifier authenticates a raw webhook body
type EventVerifier interface {
	Verify(payload []byte, signature string) (*stripe.Event, error)
}

// EventRouter reconciles a verified event
type EventRouter interface {
	Route(ctx context.Context, event *stripe.Event) (*service.Outcome, error)
}

// WebhookResponse acknowledges a delivered event
type WebhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status"`
}

// WebhookHandler handles inbound processor webhooks
type WebhookHandler struct {
	config   *config.Configuration
	verifier EventVerifier
	router   EventRouter
	sentry   *sentry.Service
	logger   *logger.Logger
}

// NewWebhookHandler creates a new webhook handler. A nil verifier means the
// signing secret is missing and every delivery is answered with a 500.
func NewWebhookHandler(
	cfg *config.Configuration,
	verifier EventVerifier,
	router EventRouter,
	sentryService *sentry.Service,
	logger *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		config:   cfg,
		verifier: verifier,
		router:   router,
		sentry:   sentryService,
		logger:   logger,
	}
}

// HandleStripeWebhook handles the POST /webhooks/stripe endpoint.
//
// The sender only looks at the status code: 2xx stops redelivery, anything
// else schedules another attempt.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	if h.verifier == nil {
		err := ierr.NewError("webhook signing secret is not configured").
			WithHint("Webhook endpoint is not configured").
			Mark(ierr.ErrConfiguration)
		h.logger.Errorw("rejecting webhook, signing secret missing", "error", err)
		h.sentry.CaptureWithTags(ctx, err, map[string]string{"component": "webhook"})
		c.Error(err)
		return
	}

	body, err := h.readBody(c)
	if err != nil {
		h.logger.Warnw("failed to read webhook body", "error", err)
		c.Error(err)
		return
	}

	event, err := h.verifier.Verify(body, c.GetHeader(types.HeaderStripeSignature))
	if err != nil {
		c.Error(err)
		return
	}

	outcome, err := h.router.Route(ctx, event)
	if err != nil {
		if ierr.IsVerification(err) {
			c.Error(err)
			return
		}

		h.logger.Errorw("failed to process webhook event",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
			"transient", ierr.IsTransient(err),
		)
		c.JSON(http.StatusInternalServerError, middleware.NewErrorResponse(err))
		return
	}

	h.logger.Debugw("webhook event acknowledged",
		"event_id", event.ID,
		"event_type", event.Type,
		"status", outcome.Status,
	)
	c.JSON(http.StatusOK, WebhookResponse{
		Received: true,
		Status:   string(outcome.Status),
	})
}

// readBody reads the raw body without any decoding so the signature is
// checked against the exact bytes that were signed.
func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, error) {
	reader := io.Reader(c.Request.Body)
	if h.config.Server.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.Server.MaxBodyBytes)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, ierr.WithError(err).
				WithHintf("Request body exceeds %d bytes", tooLarge.Limit).
				Mark(ierr.ErrVerification)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to read request body").
			Mark(ierr.ErrVerification)
	}
	return body, nil
}
