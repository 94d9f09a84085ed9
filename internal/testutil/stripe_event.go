package testutil

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// TestWebhookSecret is the signing secret used by test suites
const TestWebhookSecret = "whsec_test_secret"

// NewStripeEventPayload builds the JSON body of a Stripe event wrapping object
func NewStripeEventPayload(id, eventType string, created time.Time, object map[string]any) []byte {
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2025-04-30.basil",
		"livemode":    false,
		"data": map[string]any{
			"object": object,
		},
	})
	if err != nil {
		panic(err)
	}
	return payload
}

// SignStripePayload returns a valid Stripe-Signature header for payload
func SignStripePayload(payload []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}
