/**
 * @description
 * This file defines the core domain models for the subscription-service.
 * It includes the subscription state stored on each user record, the tier and role
 * enums, and the snapshot type that the reconciler writes in one atomic update.
 */
package domain

import (
	"strings"
	"time"
)

// Tier is the subscription level controlling feature access.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierPro     Tier = "pro"
)

// ParseTier converts a configured tier name into a Tier.
func ParseTier(raw string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierFree:
		return TierFree, true
	case TierPremium:
		return TierPremium, true
	case TierPro:
		return TierPro, true
	}
	return "", false
}

// Role is the permission flag carried on a user record.
type Role string

const (
	RoleUser    Role = "user"
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

// Elevated returns the role a pro subscriber is promoted to. Roles already at or
// above creator are returned unchanged, so elevation never demotes.
func (r Role) Elevated() Role {
	if r == "" || r == RoleUser {
		return RoleCreator
	}
	return r
}

// Provider subscription statuses. Status is stored as an opaque passthrough; these
// constants exist for the few places that need to compare against it.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusUnpaid            = "unpaid"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
)

// SubscriptionState is the subscription portion of a user record.
type SubscriptionState struct {
	UserID                 string     `json:"user_id"`
	Tier                   Tier       `json:"tier"`
	Status                 string     `json:"status,omitempty"`
	ProviderCustomerID     *string    `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID *string    `json:"provider_subscription_id,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	Role                   Role       `json:"role"`
}

// Snapshot is the full set of subscription fields written to a user record in a
// single statement. Two fields are merged with the stored row instead of replacing it:
// ProviderCustomerID is only applied when the stored value is empty, and a nil
// CurrentPeriodEnd keeps the stored value.
type Snapshot struct {
	UserID                 string
	Tier                   Tier
	Status                 string
	ProviderCustomerID     *string
	ProviderSubscriptionID *string
	CurrentPeriodEnd       *time.Time
	ElevateRole            bool
}

// Normalize enforces tier = free whenever no provider subscription is attached.
func (s Snapshot) Normalize() Snapshot {
	if s.ProviderSubscriptionID == nil || strings.TrimSpace(*s.ProviderSubscriptionID) == "" {
		s.ProviderSubscriptionID = nil
		s.Tier = TierFree
		s.ElevateRole = false
	}
	if s.Tier == "" {
		s.Tier = TierFree
	}
	return s
}

// SubscriptionStatus is a simplified DTO for API responses when a client requests
// the user's subscription status.
type SubscriptionStatus struct {
	Tier             Tier       `json:"tier"`
	Status           string     `json:"status"`
	IsActive         bool       `json:"is_active"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	Role             Role       `json:"role"`
}

// IsTerminalStatus reports whether a provider status means the subscription has ended
// and will never bill again.
func IsTerminalStatus(status string) bool {
	return status == StatusCanceled || status == StatusIncompleteExpired
}

// IsActiveStatus reports whether a provider status grants paid features.
func IsActiveStatus(status string) bool {
	return status == StatusActive || status == StatusTrialing
}

// StringPtr returns nil for blank values.
func StringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
