/**
 * @description
 * This file provides a client for reading subscriptions from the billing provider.
 * Checkout completion, invoice events and the stale-subscription sweep use it to fetch
 * the authoritative subscription snapshot.
 */
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/echonow/subscription-service/internal/domain"
)

// Client wraps the billing provider API.
type Client struct {
	sc *stripe.Client
}

// NewClient creates a provider client authenticated with the given secret key.
func NewClient(secretKey string) (*Client, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	return &Client{sc: stripe.NewClient(secretKey)}, nil
}

// GetSubscription retrieves a subscription with its customer expanded.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, errors.New("subscription ID is required")
	}

	params := &stripe.SubscriptionRetrieveParams{
		Expand: []*string{stripe.String("customer")},
	}

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrSubscriptionNotFound, subscriptionID, err)
		}
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", subscriptionID, err)
	}

	converted := toProviderSubscription(sub)
	return &converted, nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

func toProviderSubscription(sub *stripe.Subscription) domain.ProviderSubscription {
	if sub == nil {
		return domain.ProviderSubscription{}
	}

	out := domain.ProviderSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}

	var periodEnd int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			priceID := ""
			if item.Price != nil {
				priceID = item.Price.ID
			}
			out.PriceIDs = append(out.PriceIDs, priceID)
			if periodEnd == 0 && item.CurrentPeriodEnd > 0 {
				periodEnd = item.CurrentPeriodEnd
			}
		}
	}
	if periodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}
	return out
}
