/**
 * @description
 * This file contains the subscription reconciler: the rules that map verified billing
 * events onto subscription snapshots stored on the user record.
 *
 * Key features:
 * - Dispatch: a type switch over the closed set of event variants. Unrecognized events
 *   are acknowledged without side effects.
 * - Full overwrite: every transition computes a complete snapshot and writes it in one
 *   statement, so replays and concurrent deliveries converge (last write wins).
 * - Refresh: checkout completion and invoice success re-read the subscription from the
 *   billing provider and apply the subscription-updated rules to it.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/echonow/subscription-service/internal/domain"
	"github.com/echonow/subscription-service/internal/store"
)

// DefaultInvoiceFailureThreshold is the attempt count at which a failed invoice
// downgrades the subscriber.
const DefaultInvoiceFailureThreshold = 3

var (
	// ErrStoreFailure wraps failures of the user store. The event must be retried.
	ErrStoreFailure = errors.New("user store failure")
	// ErrProviderFetch wraps failures to read a subscription from the billing provider.
	ErrProviderFetch = errors.New("billing provider fetch failed")
)

// Outcome describes how an event was handled. Every outcome except OutcomeFailed is
// acknowledged to the provider as a success.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnresolvable Outcome = "unresolvable"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeFailed       Outcome = "failed"
	OutcomeRejected     Outcome = "rejected"
)

// UserStore is the persistence the reconciler writes snapshots to.
type UserStore interface {
	ApplySnapshot(ctx context.Context, snapshot domain.Snapshot) (*domain.SubscriptionState, error)
}

// BillingProvider reads a subscription's current state from the billing provider.
type BillingProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error)
}

// Publisher sends a message to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// SubscriptionChangedRoutingKey is the routing key of published snapshot changes.
const SubscriptionChangedRoutingKey = "subscription.changed"

// Reconciler applies billing events to user subscription state.
type Reconciler struct {
	store            UserStore
	provider         BillingProvider
	prices           PriceTable
	logger           *slog.Logger
	publisher        Publisher
	exchange         string
	failureThreshold int64
	now              func() time.Time
}

// NewReconciler creates a reconciler. The provider client is passed in explicitly and
// shared by every request handled by this reconciler.
func NewReconciler(userStore UserStore, provider BillingProvider, prices PriceTable, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:            userStore,
		provider:         provider,
		prices:           prices,
		logger:           logger,
		failureThreshold: DefaultInvoiceFailureThreshold,
		now:              time.Now,
	}
}

// SetPublisher enables publishing of subscription-changed messages.
func (r *Reconciler) SetPublisher(publisher Publisher, exchange string) {
	r.publisher = publisher
	r.exchange = exchange
}

// SetInvoiceFailureThreshold overrides the attempt count that triggers a downgrade.
func (r *Reconciler) SetInvoiceFailureThreshold(attempts int64) {
	if attempts > 0 {
		r.failureThreshold = attempts
	}
}

// Handle dispatches an event to its reconciliation rule.
func (r *Reconciler) Handle(ctx context.Context, evt domain.BillingEvent) (Outcome, error) {
	switch e := evt.(type) {
	case domain.CheckoutCompleted:
		if e.SubscriptionID == "" {
			r.logger.Info("checkout completed without subscription; nothing to reconcile",
				"event_id", e.ID, "session_id", e.SessionID)
			return OutcomeIgnored, nil
		}
		return r.refresh(ctx, e.EventHeader, e.SubscriptionID, e.UserID)

	case domain.InvoicePaymentSucceeded:
		if e.SubscriptionID == "" {
			r.logger.Info("invoice paid without subscription; nothing to reconcile",
				"event_id", e.ID, "invoice_id", e.InvoiceID)
			return OutcomeIgnored, nil
		}
		return r.refresh(ctx, e.EventHeader, e.SubscriptionID, e.UserID)

	case domain.InvoicePaymentFailed:
		return r.handleInvoiceFailed(ctx, e)

	case domain.SubscriptionCreated:
		return r.ApplySubscription(ctx, e.EventHeader, e.Subscription, "")

	case domain.SubscriptionUpdated:
		return r.ApplySubscription(ctx, e.EventHeader, e.Subscription, "")

	case domain.SubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, e)

	case domain.Unrecognized:
		r.logger.Info("unhandled billing event type", "event_id", e.ID, "event_type", e.Type)
		return OutcomeIgnored, nil
	}

	r.logger.Warn("unsupported billing event variant", "variant", fmt.Sprintf("%T", evt))
	return OutcomeIgnored, nil
}

// ApplySubscription writes the snapshot derived from a provider subscription. The
// fallback user id is used when the subscription metadata carries none.
func (r *Reconciler) ApplySubscription(ctx context.Context, header domain.EventHeader, sub domain.ProviderSubscription, fallbackUserID string) (Outcome, error) {
	userID := sub.UserID()
	if userID == "" {
		userID = fallbackUserID
	}
	if userID == "" {
		r.logger.Warn("subscription event has no user linkage; dropping",
			"event_id", header.ID, "event_type", header.Type, "subscription_id", sub.ID)
		return OutcomeUnresolvable, nil
	}

	return r.persist(ctx, header, SnapshotFromSubscription(userID, sub, r.prices))
}

// SnapshotFromSubscription derives the full snapshot for a created or updated subscription.
func SnapshotFromSubscription(userID string, sub domain.ProviderSubscription, prices PriceTable) domain.Snapshot {
	tier := prices.TierForItems(sub.PriceIDs)
	snapshot := domain.Snapshot{
		UserID:                 userID,
		Tier:                   tier,
		Status:                 sub.Status,
		ProviderCustomerID:     domain.StringPtr(sub.CustomerID),
		ProviderSubscriptionID: domain.StringPtr(sub.ID),
		ElevateRole:            tier == domain.TierPro,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd := sub.CurrentPeriodEnd.UTC()
		snapshot.CurrentPeriodEnd = &periodEnd
	}
	return snapshot.Normalize()
}

func (r *Reconciler) refresh(ctx context.Context, header domain.EventHeader, subscriptionID, fallbackUserID string) (Outcome, error) {
	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		r.logger.Error("failed to fetch subscription from billing provider",
			"event_id", header.ID, "event_type", header.Type, "subscription_id", subscriptionID, "error", err)
		return OutcomeFailed, fmt.Errorf("%w: subscription %s: %w", ErrProviderFetch, subscriptionID, err)
	}
	return r.ApplySubscription(ctx, header, *sub, fallbackUserID)
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, e domain.SubscriptionDeleted) (Outcome, error) {
	userID := e.Subscription.UserID()
	if userID == "" {
		r.logger.Warn("subscription deletion has no user linkage; dropping",
			"event_id", e.ID, "subscription_id", e.Subscription.ID)
		return OutcomeUnresolvable, nil
	}

	return r.ClearSubscription(ctx, e.EventHeader, userID, e.Subscription.CustomerID)
}

// ClearSubscription writes the canceled snapshot: free tier, canceled status and no
// provider subscription. The customer id is kept.
func (r *Reconciler) ClearSubscription(ctx context.Context, header domain.EventHeader, userID, customerID string) (Outcome, error) {
	return r.persist(ctx, header, domain.Snapshot{
		UserID:             userID,
		Tier:               domain.TierFree,
		Status:             domain.StatusCanceled,
		ProviderCustomerID: domain.StringPtr(customerID),
	}.Normalize())
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, e domain.InvoicePaymentFailed) (Outcome, error) {
	if e.SubscriptionID == "" {
		r.logger.Info("invoice payment failed without subscription; nothing to reconcile",
			"event_id", e.ID, "invoice_id", e.InvoiceID)
		return OutcomeIgnored, nil
	}
	if e.AttemptCount < r.failureThreshold {
		r.logger.Warn("invoice payment attempt failed; below downgrade threshold",
			"event_id", e.ID, "invoice_id", e.InvoiceID, "subscription_id", e.SubscriptionID,
			"attempt_count", e.AttemptCount, "threshold", r.failureThreshold)
		return OutcomeIgnored, nil
	}

	userID := e.UserID
	customerID := e.CustomerID
	if userID == "" {
		sub, err := r.provider.GetSubscription(ctx, e.SubscriptionID)
		if err != nil {
			r.logger.Error("failed to fetch subscription for failed invoice",
				"event_id", e.ID, "subscription_id", e.SubscriptionID, "error", err)
			return OutcomeFailed, fmt.Errorf("%w: subscription %s: %w", ErrProviderFetch, e.SubscriptionID, err)
		}
		userID = sub.UserID()
		if customerID == "" {
			customerID = sub.CustomerID
		}
	}
	if userID == "" {
		r.logger.Warn("failed invoice has no user linkage; dropping",
			"event_id", e.ID, "subscription_id", e.SubscriptionID)
		return OutcomeUnresolvable, nil
	}

	return r.persist(ctx, e.EventHeader, domain.Snapshot{
		UserID:                 userID,
		Tier:                   domain.TierFree,
		Status:                 domain.StatusIncomplete,
		ProviderCustomerID:     domain.StringPtr(customerID),
		ProviderSubscriptionID: domain.StringPtr(e.SubscriptionID),
	}.Normalize())
}

func (r *Reconciler) persist(ctx context.Context, header domain.EventHeader, snapshot domain.Snapshot) (Outcome, error) {
	state, err := r.store.ApplySnapshot(ctx, snapshot)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			r.logger.Warn("user referenced by billing event not found; acknowledging",
				"event_id", header.ID, "event_type", header.Type, "user_id", snapshot.UserID)
			return OutcomeUnresolvable, nil
		}
		r.logger.Error("failed to write subscription snapshot",
			"event_id", header.ID, "event_type", header.Type, "user_id", snapshot.UserID, "error", err)
		return OutcomeFailed, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	r.logger.Info("subscription snapshot written",
		"event_id", header.ID, "event_type", header.Type, "user_id", state.UserID,
		"tier", state.Tier, "status", state.Status, "role", state.Role)

	r.publishChanged(ctx, header, state)
	return OutcomeProcessed, nil
}

func (r *Reconciler) publishChanged(ctx context.Context, header domain.EventHeader, state *domain.SubscriptionState) {
	if r.publisher == nil {
		return
	}
	message := domain.SubscriptionChangedEvent{
		MessageID:              uuid.NewString(),
		UserID:                 state.UserID,
		Tier:                   state.Tier,
		Status:                 state.Status,
		Role:                   state.Role,
		ProviderSubscriptionID: state.ProviderSubscriptionID,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		SourceEventID:          header.ID,
		SourceEventType:        header.Type,
		OccurredAt:             r.now().UTC(),
	}
	if err := r.publisher.Publish(ctx, r.exchange, SubscriptionChangedRoutingKey, message); err != nil {
		r.logger.Warn("failed to publish subscription change",
			"event_id", header.ID, "user_id", state.UserID, "error", err)
	}
}
