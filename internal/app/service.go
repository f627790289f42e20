/**
 * @description
 * This file contains the read side of the subscription service: the status lookup
 * behind the authenticated subscription endpoint.
 */
package app

import (
	"context"
	"errors"

	"github.com/echonow/subscription-service/internal/domain"
)

// StateReader reads a user's stored subscription state.
type StateReader interface {
	GetSubscriptionState(ctx context.Context, userID string) (*domain.SubscriptionState, error)
}

// Service provides the business logic for subscription status queries.
type Service struct {
	repo StateReader
}

// NewService creates a new subscription service.
func NewService(repo StateReader) Service {
	return Service{repo: repo}
}

// GetStatus retrieves the subscription status for a user.
func (s Service) GetStatus(ctx context.Context, userID string) (*domain.SubscriptionStatus, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	state, err := s.repo.GetSubscriptionState(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := &domain.SubscriptionStatus{
		Tier:     state.Tier,
		Status:   state.Status,
		Role:     state.Role,
		IsActive: state.Tier != domain.TierFree && domain.IsActiveStatus(state.Status),
	}
	if status.IsActive {
		status.CurrentPeriodEnd = state.CurrentPeriodEnd
	}
	return status, nil
}
