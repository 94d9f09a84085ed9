package types

// WebhookEventType is the processor's event type string
type WebhookEventType string

const (
	WebhookEventTypeCheckoutSessionCompleted WebhookEventType = "checkout.session.completed"
	WebhookEventTypeSubscriptionCreated      WebhookEventType = "customer.subscription.created"
	WebhookEventTypeSubscriptionUpdated      WebhookEventType = "customer.subscription.updated"
	WebhookEventTypeSubscriptionDeleted      WebhookEventType = "customer.subscription.deleted"
	WebhookEventTypeInvoicePaid              WebhookEventType = "invoice.paid"
	WebhookEventTypeInvoicePaymentFailed     WebhookEventType = "invoice.payment_failed"
)

// ProcessingOutcome is what the idempotency ledger records for an event
type ProcessingOutcome string

const (
	ProcessingOutcomeProcessing          ProcessingOutcome = "processing"
	ProcessingOutcomeApplied             ProcessingOutcome = "applied"
	ProcessingOutcomeAppliedWithWarnings ProcessingOutcome = "applied_with_warnings"
	ProcessingOutcomeFailed              ProcessingOutcome = "failed"
)

// IsFinal reports whether the ledger entry will never be reclaimed
func (o ProcessingOutcome) IsFinal() bool {
	return o == ProcessingOutcomeApplied || o == ProcessingOutcomeAppliedWithWarnings
}
