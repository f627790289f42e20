/**
 * @description
 * This file implements the data access layer for the subscription-service.
 * Subscription state lives on the users table; every reconciliation writes the whole
 * snapshot in a single UPDATE so concurrent events can never interleave field writes.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echonow/subscription-service/internal/domain"
)

// ErrUserNotFound is returned when no user row matches the given id.
var ErrUserNotFound = errors.New("user not found")

// DBTX is the subset of pgxpool.Pool used by the repository.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository handles database operations for user subscription state.
type Repository struct {
	db DBTX
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// NewRepositoryWithDB creates a repository over any DBTX implementation.
func NewRepositoryWithDB(db DBTX) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `id, tier, subscription_status, stripe_customer_id, stripe_subscription_id, stripe_current_period_end, role`

// applySnapshotQuery overwrites the subscription fields of one user. The customer id is
// set once and never cleared, a NULL period end keeps the stored value, and the role is
// only ever raised from 'user' to 'creator'.
// elevatableRolePredicate matches the roles Role.Elevated promotes. The read path
// treats NULL and '' as 'user', so they are promoted too.
const elevatableRolePredicate = `(role IS NULL OR role IN ('', 'user'))`

const applySnapshotQuery = `
        UPDATE users SET
            tier = $2,
            subscription_status = $3,
            stripe_customer_id = COALESCE(stripe_customer_id, $4),
            stripe_subscription_id = $5,
            stripe_current_period_end = COALESCE($6, stripe_current_period_end),
            role = CASE WHEN $7::boolean AND ` + elevatableRolePredicate + ` THEN 'creator' ELSE role END,
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + subscriptionColumns

// ApplySnapshot writes a full subscription snapshot to the user record atomically.
func (r *Repository) ApplySnapshot(ctx context.Context, snapshot domain.Snapshot) (*domain.SubscriptionState, error) {
	snapshot = snapshot.Normalize()
	row := r.db.QueryRow(ctx, applySnapshotQuery,
		snapshot.UserID,
		string(snapshot.Tier),
		nullableText(snapshot.Status),
		snapshot.ProviderCustomerID,
		snapshot.ProviderSubscriptionID,
		snapshot.CurrentPeriodEnd,
		snapshot.ElevateRole,
	)
	return scanSubscriptionState(row)
}

// GetSubscriptionState retrieves the subscription state for a given user ID.
func (r *Repository) GetSubscriptionState(ctx context.Context, userID string) (*domain.SubscriptionState, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM users WHERE id = $1`
	return scanSubscriptionState(r.db.QueryRow(ctx, query, userID))
}

// ListStaleSubscriptions returns users whose paid period ended before the cutoff while
// their stored status still claims the subscription is live.
func (r *Repository) ListStaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]domain.SubscriptionState, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
        SELECT ` + subscriptionColumns + `
        FROM users
        WHERE stripe_subscription_id IS NOT NULL
          AND stripe_current_period_end < $1
          AND subscription_status IN ('active', 'trialing', 'past_due')
        ORDER BY stripe_current_period_end ASC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.SubscriptionState
	for rows.Next() {
		state, err := scanSubscriptionState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

func scanSubscriptionState(row pgx.Row) (*domain.SubscriptionState, error) {
	var (
		state  domain.SubscriptionState
		tier   string
		status *string
		role   *string
	)
	err := row.Scan(
		&state.UserID,
		&tier,
		&status,
		&state.ProviderCustomerID,
		&state.ProviderSubscriptionID,
		&state.CurrentPeriodEnd,
		&role,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	state.Tier = domain.TierFree
	if parsed, ok := domain.ParseTier(tier); ok {
		state.Tier = parsed
	}
	if status != nil {
		state.Status = *status
	}
	state.Role = domain.RoleUser
	if role != nil && *role != "" {
		state.Role = domain.Role(*role)
	}
	return &state, nil
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
