package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"social-wallet/internal/core/ports"
	"social-wallet/pkg/apperror"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// DefaultTolerance bounds the age of an accepted webhook signature.
const DefaultTolerance = 5 * time.Minute

// WebhookVerifier implements ports.WebhookVerifier for Stripe-Signature headers.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewWebhookVerifier creates a verifier for the endpoint signing secret. A zero tolerance
// falls back to DefaultTolerance.
func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// ParseEvent verifies the signature and timestamp, then decodes the event.
// payment_intent.* events carry the embedded intent.
func (v *WebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (*ports.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperror.ErrInvalidSignature()
	}

	out := &ports.GatewayEvent{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent from event %s: %w", event.ID, err)
	}
	out.Intent = toIntent(&pi)
	return out, nil
}
