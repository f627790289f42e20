/**
 * @description
 * Scheduled sweep that re-reads subscriptions whose stored period has already ended.
 * It heals users whose renewal or cancellation webhook never arrived.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/echonow/subscription-service/internal/domain"
)

// SweepEventType labels snapshots written by the stale-subscription sweep.
const SweepEventType = "sweep.subscription_refresh"

// StaleSubscriptionLister lists users whose stored subscription period has lapsed.
type StaleSubscriptionLister interface {
	ListStaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]domain.SubscriptionState, error)
}

// Jobs contains the logic for scheduled tasks.
type Jobs struct {
	repo       StaleSubscriptionLister
	provider   BillingProvider
	reconciler *Reconciler
	logger     *slog.Logger
	batchSize  int
	now        func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo StaleSubscriptionLister, provider BillingProvider, reconciler *Reconciler, logger *slog.Logger, batchSize int) *Jobs {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Jobs{
		repo:       repo,
		provider:   provider,
		reconciler: reconciler,
		logger:     logger,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

// RefreshStaleSubscriptions re-applies the provider's snapshot for every lapsed subscription.
// Subscriptions that ended or no longer exist at the provider are cleared to free.
func (j *Jobs) RefreshStaleSubscriptions() {
	j.logger.Info("starting stale subscription sweep")
	ctx := context.Background()

	states, err := j.repo.ListStaleSubscriptions(ctx, j.now().UTC(), j.batchSize)
	if err != nil {
		j.logger.Error("failed to list stale subscriptions", "error", err)
		return
	}

	refreshed := 0
	for _, state := range states {
		if state.ProviderSubscriptionID == nil {
			continue
		}
		subscriptionID := *state.ProviderSubscriptionID

		header := domain.EventHeader{ID: "sweep_" + uuid.NewString(), Type: SweepEventType, Created: j.now().UTC()}

		var outcome Outcome
		sub, err := j.provider.GetSubscription(ctx, subscriptionID)
		switch {
		case errors.Is(err, domain.ErrSubscriptionNotFound):
			j.logger.Warn("stale subscription no longer exists at provider; downgrading",
				"user_id", state.UserID, "subscription_id", subscriptionID)
			outcome, err = j.reconciler.ClearSubscription(ctx, header, state.UserID, "")
		case err != nil:
			j.logger.Error("failed to fetch stale subscription",
				"user_id", state.UserID, "subscription_id", subscriptionID, "error", err)
			continue
		case domain.IsTerminalStatus(sub.Status):
			j.logger.Info("stale subscription has ended; downgrading",
				"user_id", state.UserID, "subscription_id", subscriptionID, "status", sub.Status)
			outcome, err = j.reconciler.ClearSubscription(ctx, header, state.UserID, sub.CustomerID)
		default:
			outcome, err = j.reconciler.ApplySubscription(ctx, header, *sub, state.UserID)
		}
		if err != nil {
			j.logger.Error("failed to refresh stale subscription",
				"user_id", state.UserID, "subscription_id", subscriptionID, "error", err)
			continue
		}
		if outcome == OutcomeProcessed {
			refreshed++
		}
	}

	j.logger.Info("stale subscription sweep finished", "candidates", len(states), "refreshed", refreshed)
}
