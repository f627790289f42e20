package stripeclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testSecret = "whsec_test_secret"

func signedHeader(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  secret,
	})
	return signed.Header
}

func TestVerify_ValidSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","object":"event","type":"customer.subscription.updated","created":1760000000,"data":{"object":{"id":"sub_1","object":"subscription"}}}`)
	verifier := NewVerifier(testSecret)

	env, err := verifier.Verify(payload, signedHeader(t, payload, testSecret))
	if err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if env.ID != "evt_123" || env.Type != "customer.subscription.updated" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if !env.Created.Equal(time.Unix(1760000000, 0)) {
		t.Fatalf("unexpected created time %v", env.Created)
	}
	if len(env.Data) == 0 {
		t.Fatal("expected raw event data")
	}
}

func TestVerify_Rejections(t *testing.T) {
	payload := []byte(`{"id":"evt_123","object":"event","type":"invoice.payment_failed","data":{"object":{}}}`)
	tampered := []byte(`{"id":"evt_123","object":"event","type":"invoice.payment_failed","data":{"object":{"attempt_count":9}}}`)

	tests := []struct {
		name    string
		secret  string
		payload []byte
		header  string
		wantErr error
	}{
		{name: "secret not configured", secret: "", payload: payload, header: signedHeader(t, payload, testSecret), wantErr: ErrSecretNotConfigured},
		{name: "missing header", secret: testSecret, payload: payload, header: "", wantErr: ErrMissingSignature},
		{name: "tampered payload", secret: testSecret, payload: tampered, header: signedHeader(t, payload, testSecret), wantErr: ErrInvalidSignature},
		{name: "wrong secret", secret: testSecret, payload: payload, header: signedHeader(t, payload, "whsec_other"), wantErr: ErrInvalidSignature},
		{name: "garbage header", secret: testSecret, payload: payload, header: "t=1234567890,v1=badbadbad", wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVerifier(tt.secret).Verify(tt.payload, tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestToProviderSubscription(t *testing.T) {
	sub := &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_1"},
		Metadata: map[string]string{"userId": "user_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{Price: &stripe.Price{ID: "price_pro"}, CurrentPeriodEnd: 1763424000},
				nil,
				{Price: &stripe.Price{ID: "price_addon"}, CurrentPeriodEnd: 1763510400},
			},
		},
	}

	got := toProviderSubscription(sub)
	if got.ID != "sub_1" || got.CustomerID != "cus_1" || got.Status != "active" {
		t.Fatalf("unexpected subscription %+v", got)
	}
	if len(got.PriceIDs) != 2 || got.PriceIDs[0] != "price_pro" {
		t.Fatalf("unexpected price ids %v", got.PriceIDs)
	}
	if !got.CurrentPeriodEnd.Equal(time.Unix(1763424000, 0)) {
		t.Fatalf("expected first item period end, got %v", got.CurrentPeriodEnd)
	}
	if got.UserID() != "user_1" {
		t.Fatalf("expected user_1, got %q", got.UserID())
	}

	if empty := toProviderSubscription(&stripe.Subscription{ID: "sub_2"}); empty.CustomerID != "" || !empty.CurrentPeriodEnd.IsZero() {
		t.Fatalf("expected zero values, got %+v", empty)
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty secret key")
	}
	if _, err := NewClient("sk_test_123"); err != nil {
		t.Fatalf("expected client, got %v", err)
	}
}

func TestIsResourceMissing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"resource missing code", &stripe.Error{Code: stripe.ErrorCodeResourceMissing}, true},
		{"not found status", &stripe.Error{HTTPStatusCode: 404}, true},
		{"wrapped", fmt.Errorf("retrieve: %w", &stripe.Error{Code: stripe.ErrorCodeResourceMissing}), true},
		{"rate limited", &stripe.Error{HTTPStatusCode: 429}, false},
		{"plain error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isResourceMissing(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
