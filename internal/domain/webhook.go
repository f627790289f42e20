/**
 * @description
 * This file models the billing provider's webhook events. Verified payloads are decoded
 * into a closed set of event variants, one per handled event type, plus Unrecognized
 * for everything else.
 *
 * @notes
 * - The wire structs only capture the fields the reconciler reads. Expandable references
 *   (customer, subscription) are accepted both as bare ids and as expanded objects.
 * - Invoices carry their subscription either at the top level or, on newer API versions,
 *   under parent.subscription_details.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event types handled by the reconciler.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
)

var (
	// ErrMalformedPayload is returned when a verified event of a known type cannot be decoded.
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrSubscriptionNotFound is returned by provider clients when the subscription no
	// longer exists at the provider.
	ErrSubscriptionNotFound = errors.New("provider subscription not found")
)

// EventEnvelope is a verified event as received from the billing provider.
type EventEnvelope struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage
}

// BillingEvent is implemented by every event variant.
type BillingEvent interface {
	EventID() string
	EventType() string
	billingEvent()
}

// EventHeader carries the envelope fields shared by all variants.
type EventHeader struct {
	ID      string
	Type    string
	Created time.Time
}

func (h EventHeader) EventID() string   { return h.ID }
func (h EventHeader) EventType() string { return h.Type }
func (EventHeader) billingEvent()       {}

// CheckoutCompleted is a finished checkout session.
type CheckoutCompleted struct {
	EventHeader
	SessionID      string
	CustomerID     string
	SubscriptionID string
	UserID         string
}

// InvoicePaymentSucceeded is a paid invoice.
type InvoicePaymentSucceeded struct {
	EventHeader
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	UserID         string
}

// InvoicePaymentFailed is a failed invoice payment attempt.
type InvoicePaymentFailed struct {
	EventHeader
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	UserID         string
	AttemptCount   int64
}

// SubscriptionCreated carries the provider's snapshot of a new subscription.
type SubscriptionCreated struct {
	EventHeader
	Subscription ProviderSubscription
}

// SubscriptionUpdated carries the provider's current snapshot of a subscription.
type SubscriptionUpdated struct {
	EventHeader
	Subscription ProviderSubscription
}

// SubscriptionDeleted carries the final snapshot of a canceled subscription.
type SubscriptionDeleted struct {
	EventHeader
	Subscription ProviderSubscription
}

// Unrecognized is any event type the reconciler does not handle.
type Unrecognized struct {
	EventHeader
}

// ProviderSubscription is the provider's authoritative view of a subscription.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceIDs         []string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

// UserID returns the user join key stored in the subscription metadata.
func (s ProviderSubscription) UserID() string {
	return UserIDFromMetadata(s.Metadata)
}

// UserIDFromMetadata reads the user id written into provider metadata at checkout.
func UserIDFromMetadata(metadata map[string]string) string {
	for _, key := range []string{"userId", "user_id", "userID"} {
		if v := strings.TrimSpace(metadata[key]); v != "" {
			return v
		}
	}
	return ""
}

// DecodeEvent turns a verified envelope into its event variant.
func DecodeEvent(env EventEnvelope) (BillingEvent, error) {
	header := EventHeader{ID: env.ID, Type: env.Type, Created: env.Created}

	switch env.Type {
	case EventCheckoutCompleted:
		var session checkoutSessionPayload
		if err := decodeObject(env.Data, &session); err != nil {
			return nil, err
		}
		userID := UserIDFromMetadata(session.Metadata)
		if userID == "" {
			userID = strings.TrimSpace(session.ClientReferenceID)
		}
		return CheckoutCompleted{
			EventHeader:    header,
			SessionID:      session.ID,
			CustomerID:     string(session.Customer),
			SubscriptionID: string(session.Subscription),
			UserID:         userID,
		}, nil

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var invoice invoicePayload
		if err := decodeObject(env.Data, &invoice); err != nil {
			return nil, err
		}
		subscriptionID, metadata := invoice.subscriptionRef()
		if env.Type == EventInvoicePaymentSucceeded {
			return InvoicePaymentSucceeded{
				EventHeader:    header,
				InvoiceID:      invoice.ID,
				CustomerID:     string(invoice.Customer),
				SubscriptionID: subscriptionID,
				UserID:         UserIDFromMetadata(metadata),
			}, nil
		}
		return InvoicePaymentFailed{
			EventHeader:    header,
			InvoiceID:      invoice.ID,
			CustomerID:     string(invoice.Customer),
			SubscriptionID: subscriptionID,
			UserID:         UserIDFromMetadata(metadata),
			AttemptCount:   invoice.AttemptCount,
		}, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var payload subscriptionPayload
		if err := decodeObject(env.Data, &payload); err != nil {
			return nil, err
		}
		sub := payload.toProviderSubscription()
		switch env.Type {
		case EventSubscriptionCreated:
			return SubscriptionCreated{EventHeader: header, Subscription: sub}, nil
		case EventSubscriptionUpdated:
			return SubscriptionUpdated{EventHeader: header, Subscription: sub}, nil
		default:
			return SubscriptionDeleted{EventHeader: header, Subscription: sub}, nil
		}
	}

	return Unrecognized{EventHeader: header}, nil
}

// decodeObject accepts either the event's data node ({"object": {...}}) or the bare object.
func decodeObject(data json.RawMessage, dest any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty data", ErrMalformedPayload)
	}
	var wrapper struct {
		Object json.RawMessage `json:"object"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	// Bare provider objects also carry "object": "<kind>", so only unwrap a nested object.
	raw := data
	if obj := bytes.TrimSpace(wrapper.Object); len(obj) > 0 && obj[0] == '{' {
		raw = obj
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// expandableID is a reference that the provider sends either as an id string or as
// an expanded object with an "id" field.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*e = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*e = expandableID(strings.TrimSpace(s))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*e = expandableID(strings.TrimSpace(obj.ID))
	return nil
}

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID                  string       `json:"id"`
	Customer            expandableID `json:"customer"`
	Subscription        expandableID `json:"subscription"`
	AttemptCount        int64        `json:"attempt_count"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p invoicePayload) subscriptionRef() (string, map[string]string) {
	id := string(p.Subscription)
	var metadata map[string]string
	if p.SubscriptionDetails != nil {
		metadata = p.SubscriptionDetails.Metadata
	}
	if p.Parent != nil && p.Parent.SubscriptionDetails != nil {
		if id == "" {
			id = string(p.Parent.SubscriptionDetails.Subscription)
		}
		if len(metadata) == 0 {
			metadata = p.Parent.SubscriptionDetails.Metadata
		}
	}
	return id, metadata
}

type subscriptionPayload struct {
	ID               string       `json:"id"`
	Customer         expandableID `json:"customer"`
	Status           string       `json:"status"`
	CurrentPeriodEnd int64        `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (p subscriptionPayload) toProviderSubscription() ProviderSubscription {
	sub := ProviderSubscription{
		ID:         strings.TrimSpace(p.ID),
		CustomerID: string(p.Customer),
		Status:     p.Status,
		Metadata:   p.Metadata,
	}
	periodEnd := p.CurrentPeriodEnd
	for _, item := range p.Items.Data {
		sub.PriceIDs = append(sub.PriceIDs, strings.TrimSpace(item.Price.ID))
		if periodEnd == 0 && item.CurrentPeriodEnd > 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	if periodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return sub
}

// SubscriptionChangedEvent is published after every successful snapshot write.
type SubscriptionChangedEvent struct {
	MessageID              string     `json:"message_id"`
	UserID                 string     `json:"user_id"`
	Tier                   Tier       `json:"tier"`
	Status                 string     `json:"status"`
	Role                   Role       `json:"role"`
	ProviderSubscriptionID *string    `json:"provider_subscription_id,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	SourceEventID          string     `json:"source_event_id"`
	SourceEventType        string     `json:"source_event_type"`
	OccurredAt             time.Time  `json:"occurred_at"`
}
