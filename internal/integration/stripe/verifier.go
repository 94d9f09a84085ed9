package stripe

import (
	"time"

	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates inbound webhook payloads against the signing secret
type Verifier struct {
	secret    string
	tolerance time.Duration
	logger    *logger.Logger
}

// NewVerifier fails with ErrConfiguration when no signing secret is configured
func NewVerifier(secret string, logger *logger.Logger) (*Verifier, error) {
	if secret == "" {
		return nil, ierr.NewError("webhook signing secret is not configured").
			WithHint("Set stripe.webhook_secret before accepting webhooks").
			Mark(ierr.ErrConfiguration)
	}
	return &Verifier{
		secret:    secret,
		tolerance: webhook.DefaultTolerance,
		logger:    logger,
	}, nil
}

// Verify checks the signature header and returns the decoded event. Any
// failure is reported as ErrVerification and nothing is persisted.
func (v *Verifier) Verify(payload []byte, signature string) (*stripe.Event, error) {
	if signature == "" {
		return nil, ierr.NewError("missing signature header").
			WithHint("Stripe-Signature header is required").
			Mark(ierr.ErrVerification)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		v.logger.Warnw("webhook signature verification failed", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Webhook signature could not be verified").
			Mark(ierr.ErrVerification)
	}

	if event.ID == "" || event.Type == "" {
		return nil, ierr.NewError("event is missing id or type").
			WithHint("Webhook payload is not a valid event").
			Mark(ierr.ErrVerification)
	}

	return &event, nil
}
