/**
 * @description
 * This file verifies billing provider webhook deliveries. A delivery is only trusted
 * once its signature header has been checked against the raw request body with the
 * shared webhook secret.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v82/webhook: signature scheme and timestamp tolerance.
 */
package stripeclient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/echonow/subscription-service/internal/domain"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

var (
	// ErrSecretNotConfigured is returned when no webhook secret is configured. Every
	// delivery is rejected in that case.
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	// ErrMissingSignature is returned when the signature header is absent.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrInvalidSignature is returned when the signature does not match the payload,
	// is malformed, or is outside the timestamp tolerance.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verifier checks webhook signatures.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier for the given webhook secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: webhook.DefaultTolerance,
	}
}

// Verify authenticates a raw payload and returns the event envelope it carries.
func (v *Verifier) Verify(payload []byte, signatureHeader string) (domain.EventEnvelope, error) {
	if v == nil || v.secret == "" {
		return domain.EventEnvelope{}, ErrSecretNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return domain.EventEnvelope{}, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	env := domain.EventEnvelope{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data != nil {
		env.Data = event.Data.Raw
	}
	return env, nil
}
