package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flexprice/creditsync/internal/domain/processor"
	ierr "github.com/flexprice/creditsync/internal/errors"
	"github.com/flexprice/creditsync/internal/idempotency"
	"github.com/flexprice/creditsync/internal/integration/stripe"
	"github.com/flexprice/creditsync/internal/logger"
	"github.com/flexprice/creditsync/internal/publisher"
	"github.com/flexprice/creditsync/internal/sentry"
	"github.com/flexprice/creditsync/internal/service"
	"github.com/flexprice/creditsync/internal/types"
	stripeapi "github.com/stripe/stripe-go/v82"
)

// applyFunc runs the reconciler for one decoded payload
type applyFunc func(ctx context.Context, evt *processor.Event) (*service.Outcome, error)

// decodeFunc turns a raw event object into the call that applies it
type decodeFunc func(raw json.RawMessage) (applyFunc, error)

// Router dispatches verified events to exactly one reconciler handler
type Router struct {
	guard      *idempotency.Guard
	reconciler service.ReconcilerService
	publisher  publisher.OutcomePublisher
	sentry     *sentry.Service
	logger     *logger.Logger
	handlers   map[types.WebhookEventType]decodeFunc
}

// NewRouter creates a new Stripe event router
func NewRouter(
	guard *idempotency.Guard,
	reconciler service.ReconcilerService,
	outcomePublisher publisher.OutcomePublisher,
	sentryService *sentry.Service,
	logger *logger.Logger,
) *Router {
	r := &Router{
		guard:      guard,
		reconciler: reconciler,
		publisher:  outcomePublisher,
		sentry:     sentryService,
		logger:     logger,
	}
	r.handlers = map[types.WebhookEventType]decodeFunc{
		types.WebhookEventTypeCheckoutSessionCompleted: r.decodeCheckoutCompleted,
		types.WebhookEventTypeSubscriptionCreated:      r.decodeSubscription(reconciler.CreateSubscription),
		types.WebhookEventTypeSubscriptionUpdated:      r.decodeSubscription(reconciler.UpdateSubscription),
		types.WebhookEventTypeSubscriptionDeleted:      r.decodeSubscription(reconciler.CancelSubscription),
		types.WebhookEventTypeInvoicePaid:              r.decodeInvoice(reconciler.RecordPaymentSucceeded),
		types.WebhookEventTypeInvoicePaymentFailed:     r.decodeInvoice(reconciler.RecordPaymentFailed),
	}
	return r
}

// Handles reports whether eventType has a handler
func (r *Router) Handles(eventType string) bool {
	_, ok := r.handlers[types.WebhookEventType(eventType)]
	return ok
}

// Route decodes the event, claims it in the idempotency ledger and runs its
// handler. Unknown event types are acknowledged without touching the ledger.
func (r *Router) Route(ctx context.Context, event *stripeapi.Event) (*service.Outcome, error) {
	eventType := types.WebhookEventType(event.Type)
	decode, ok := r.handlers[eventType]
	if !ok {
		r.logger.Infow("unhandled Stripe webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return service.NotHandled(), nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, ierr.NewError("event has no data object").
			WithHint("Webhook payload is missing data.object").
			Mark(ierr.ErrVerification)
	}

	apply, err := decode(event.Data.Raw)
	if err != nil {
		r.logger.Errorw("failed to decode webhook event object",
			"error", err,
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil, ierr.WithError(err).
			WithHintf("Invalid %s payload", event.Type).
			Mark(ierr.ErrVerification)
	}

	evt := &processor.Event{
		ID:      event.ID,
		Type:    eventType,
		Created: time.Unix(event.Created, 0).UTC(),
	}
	ctx = types.SetEventID(ctx, evt.ID)

	span, ctx := r.sentry.MonitorEventProcessing(ctx, string(eventType), evt.Created, map[string]interface{}{
		"event_id": evt.ID,
	})
	defer sentry.FinishSpan(span)

	var outcome *service.Outcome
	duplicate, err := r.guard.Run(ctx, evt.ID, string(eventType), func(ctx context.Context) (*idempotency.Completion, error) {
		var applyErr error
		outcome, applyErr = apply(ctx, evt)
		if applyErr != nil {
			return nil, applyErr
		}
		return outcome.Completion(), nil
	})
	if duplicate {
		return service.Duplicate(), nil
	}
	if err != nil && outcome == nil {
		outcome = service.Failed("")
	}
	if outcome != nil {
		r.publish(ctx, evt, outcome)
	}
	return outcome, err
}

func (r *Router) publish(ctx context.Context, evt *processor.Event, outcome *service.Outcome) {
	if err := r.publisher.Publish(ctx, outcome.ToEvent(evt)); err != nil {
		r.logger.Errorw("failed to publish reconciliation outcome",
			"error", err,
			"event_id", evt.ID,
			"status", outcome.Status,
		)
	}
}

func (r *Router) decodeCheckoutCompleted(raw json.RawMessage) (applyFunc, error) {
	var cs stripeapi.CheckoutSession
	if err := decodeObject(raw, &cs, func() string { return cs.ID }); err != nil {
		return nil, err
	}
	session := stripe.CheckoutSessionFromAPI(&cs)
	return func(ctx context.Context, evt *processor.Event) (*service.Outcome, error) {
		return r.reconciler.CompleteCheckout(ctx, evt, session)
	}, nil
}

func (r *Router) decodeSubscription(
	handle func(context.Context, *processor.Event, *processor.Subscription) (*service.Outcome, error),
) decodeFunc {
	return func(raw json.RawMessage) (applyFunc, error) {
		var ss stripeapi.Subscription
		if err := decodeObject(raw, &ss, func() string { return ss.ID }); err != nil {
			return nil, err
		}
		sub := stripe.SubscriptionFromAPI(&ss)
		return func(ctx context.Context, evt *processor.Event) (*service.Outcome, error) {
			return handle(ctx, evt, sub)
		}, nil
	}
}

func (r *Router) decodeInvoice(
	handle func(context.Context, *processor.Event, *processor.Invoice) (*service.Outcome, error),
) decodeFunc {
	return func(raw json.RawMessage) (applyFunc, error) {
		var in stripeapi.Invoice
		if err := decodeObject(raw, &in, func() string { return in.ID }); err != nil {
			return nil, err
		}
		inv := stripe.InvoiceFromAPI(&in)
		return func(ctx context.Context, evt *processor.Event) (*service.Outcome, error) {
			return handle(ctx, evt, inv)
		}, nil
	}
}

// decodeObject unmarshals the event object into its stripe-go type. The SDK
// accepts an object without an id, so that is checked here.
func decodeObject(raw json.RawMessage, obj interface{}, id func() string) error {
	if err := json.Unmarshal(raw, obj); err != nil {
		return err
	}
	if id() == "" {
		return ierr.NewError("event object has no id").
			WithHint("Webhook data.object is missing its id").
			Mark(ierr.ErrValidation)
	}
	return nil
}
