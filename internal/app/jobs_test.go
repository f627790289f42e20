package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/echonow/subscription-service/internal/domain"
)

type staleListerStub struct {
	states []domain.SubscriptionState
	err    error
	before time.Time
	limit  int
}

func (s *staleListerStub) ListStaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]domain.SubscriptionState, error) {
	s.before = before
	s.limit = limit
	return s.states, s.err
}

func TestRefreshStaleSubscriptions(t *testing.T) {
	users := newUserStoreStub(
		domain.SubscriptionState{UserID: "user_1", Tier: domain.TierPro, Status: "active", ProviderSubscriptionID: domain.StringPtr("sub_1")},
		domain.SubscriptionState{UserID: "user_2", Tier: domain.TierPremium, Status: "active", ProviderSubscriptionID: domain.StringPtr("sub_2")},
	)

	renewed := providerSub("sub_1", "price_pro", "active")
	canceled := providerSub("sub_2", "price_premium", "canceled")
	canceled.Metadata = nil
	provider := &providerStub{subs: map[string]domain.ProviderSubscription{
		"sub_1": renewed,
		"sub_2": canceled,
	}}

	lister := &staleListerStub{states: []domain.SubscriptionState{
		users.state("user_1"),
		users.state("user_2"),
		{UserID: "user_3"},
		{UserID: "user_4", ProviderSubscriptionID: domain.StringPtr("sub_unknown")},
	}}

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	jobs := NewJobs(lister, provider, newTestReconciler(users, provider), testLogger(), 0)
	jobs.now = func() time.Time { return now }

	jobs.RefreshStaleSubscriptions()

	if !lister.before.Equal(now) || lister.limit != 100 {
		t.Fatalf("expected lookup before %v limit 100, got %v / %d", now, lister.before, lister.limit)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 provider fetches, got %d", provider.calls)
	}
	if got := users.state("user_1"); got.CurrentPeriodEnd == nil || !got.CurrentPeriodEnd.Equal(testPeriodEnd) {
		t.Fatalf("expected user_1 period end refreshed, got %+v", got)
	}
	// The stored user id is the fallback when metadata is missing.
	if got := users.state("user_2"); got.Tier != domain.TierFree || got.Status != "canceled" || got.ProviderSubscriptionID != nil {
		t.Fatalf("expected user_2 {free, canceled, nil}, got %+v", got)
	}
}

func TestRefreshStaleSubscriptions_ClearsEndedSubscriptions(t *testing.T) {
	tests := []struct {
		name     string
		provider *providerStub
	}{
		{
			name: "canceled",
			provider: &providerStub{subs: map[string]domain.ProviderSubscription{
				"sub_1": providerSub("sub_1", "price_pro", "canceled"),
			}},
		},
		{
			name: "incomplete expired",
			provider: &providerStub{subs: map[string]domain.ProviderSubscription{
				"sub_1": providerSub("sub_1", "price_pro", "incomplete_expired"),
			}},
		},
		{
			name:     "deleted at provider",
			provider: &providerStub{missing: map[string]bool{"sub_1": true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newUserStoreStub(domain.SubscriptionState{
				UserID:                 "user_1",
				Tier:                   domain.TierPro,
				Status:                 "active",
				Role:                   domain.RoleCreator,
				ProviderCustomerID:     domain.StringPtr("cus_1"),
				ProviderSubscriptionID: domain.StringPtr("sub_1"),
			})
			lister := &staleListerStub{states: []domain.SubscriptionState{users.state("user_1")}}
			jobs := NewJobs(lister, tt.provider, newTestReconciler(users, tt.provider), testLogger(), 10)

			jobs.RefreshStaleSubscriptions()

			got := users.state("user_1")
			if got.Tier != domain.TierFree || got.Status != domain.StatusCanceled || got.ProviderSubscriptionID != nil {
				t.Fatalf("expected {free, canceled, nil}, got %+v", got)
			}
			if got.Role != domain.RoleCreator {
				t.Fatalf("expected role kept, got %s", got.Role)
			}
			if got.ProviderCustomerID == nil || *got.ProviderCustomerID != "cus_1" {
				t.Fatalf("expected customer id kept, got %v", got.ProviderCustomerID)
			}
		})
	}
}

func TestRefreshStaleSubscriptions_SkipsFetchFailures(t *testing.T) {
	users := newUserStoreStub(domain.SubscriptionState{
		UserID: "user_1", Tier: domain.TierPro, Status: "active", ProviderSubscriptionID: domain.StringPtr("sub_1"),
	})
	provider := &providerStub{err: errors.New("provider unavailable")}
	lister := &staleListerStub{states: []domain.SubscriptionState{users.state("user_1")}}
	jobs := NewJobs(lister, provider, newTestReconciler(users, provider), testLogger(), 10)

	jobs.RefreshStaleSubscriptions()

	if users.mutations != 0 {
		t.Fatalf("expected no writes on fetch failure, got %d", users.mutations)
	}
	if got := users.state("user_1"); got.Tier != domain.TierPro || got.ProviderSubscriptionID == nil {
		t.Fatalf("expected state untouched, got %+v", got)
	}
}

func TestRefreshStaleSubscriptions_ListFailure(t *testing.T) {
	provider := &providerStub{}
	lister := &staleListerStub{err: errors.New("db down")}
	jobs := NewJobs(lister, provider, newTestReconciler(newUserStoreStub(), provider), testLogger(), 10)

	jobs.RefreshStaleSubscriptions()

	if provider.calls != 0 {
		t.Fatalf("expected no provider fetches, got %d", provider.calls)
	}
}

func TestNewScheduler_RejectsInvalidSchedule(t *testing.T) {
	provider := &providerStub{}
	jobs := NewJobs(&staleListerStub{}, provider, newTestReconciler(newUserStoreStub(), provider), testLogger(), 10)

	scheduler := NewScheduler(jobs, testLogger(), "not a schedule")
	if err := scheduler.Start(); err == nil {
		t.Fatal("expected invalid schedule to fail")
	}

	scheduler = NewScheduler(jobs, testLogger(), " 0 * * * * ")
	if err := scheduler.Start(); err != nil {
		t.Fatalf("expected valid schedule, got %v", err)
	}
	<-scheduler.Stop().Done()
}
