package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/echonow/subscription-service/internal/domain"
)

// EventDeduplicator records handled event ids. Reconciliation is idempotent on its own;
// dedup only saves redundant provider fetches and writes on redelivery.
type EventDeduplicator interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// EventHandler reconciles a single decoded event.
type EventHandler interface {
	Handle(ctx context.Context, evt domain.BillingEvent) (Outcome, error)
}

// WebhookService runs verified billing events through dedup, reconciliation and metrics.
type WebhookService struct {
	handler EventHandler
	dedup   EventDeduplicator
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewWebhookService(handler EventHandler, metrics *Metrics, logger *slog.Logger) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		handler: handler,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetDeduplicator enables processed-event tracking.
func (s *WebhookService) SetDeduplicator(dedup EventDeduplicator) {
	s.dedup = dedup
}

// Process handles one verified event. A non-nil error means the provider should retry.
func (s *WebhookService) Process(ctx context.Context, evt domain.BillingEvent) (Outcome, error) {
	start := s.now()

	if s.dedup != nil {
		seen, err := s.dedup.IsProcessed(ctx, evt.EventID())
		if err != nil {
			s.logger.Warn("event dedup lookup failed; processing anyway",
				"event_id", evt.EventID(), "error", err)
		} else if seen {
			s.logger.Info("duplicate billing event acknowledged",
				"event_id", evt.EventID(), "event_type", evt.EventType())
			s.metrics.ObserveEvent(evt.EventType(), OutcomeDuplicate, s.now().Sub(start))
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := s.handler.Handle(ctx, evt)
	if err != nil {
		s.metrics.ObserveEvent(evt.EventType(), OutcomeFailed, s.now().Sub(start))
		return OutcomeFailed, err
	}

	if s.dedup != nil {
		if markErr := s.dedup.MarkProcessed(ctx, evt.EventID(), evt.EventType()); markErr != nil {
			s.logger.Warn("failed to record processed billing event",
				"event_id", evt.EventID(), "error", markErr)
		}
	}

	s.metrics.ObserveEvent(evt.EventType(), outcome, s.now().Sub(start))
	return outcome, nil
}

// RecordRejected counts a payload that failed verification.
func (s *WebhookService) RecordRejected() {
	s.metrics.ObserveEvent("unverified", OutcomeRejected, 0)
}
