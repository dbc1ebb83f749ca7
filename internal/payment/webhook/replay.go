package webhook

import (
	"context"

	"github.com/smallbiznis/referralledger/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// replayDeferred re-applies the customer's earlier events that found no
// attribution and were recorded as ignored. Deliveries are unordered, so the
// first invoice or a cancellation can arrive before the subscription that
// attributes the customer. Replayed events are not enriched again; the
// customer stored with the record stands in for a lookup.
func (s *Service) replayDeferred(ctx context.Context, tx *gorm.DB, provider string, adapter paymentdomain.PaymentAdapter, trigger paymentdomain.Event) error {
	records, err := s.repo.ListDeferred(ctx, tx, provider, trigger.Customer(), trigger.EventID())
	if err != nil {
		return err
	}

	log := logger.WithContext(ctx, s.log)
	for _, record := range records {
		event, err := adapter.Parse(ctx, []byte(record.Payload))
		if err != nil {
			log.Warn("stored webhook event no longer parses",
				zap.String("deferred_event_id", record.EventID),
				zap.Error(err),
			)
			continue
		}
		switch event.Kind() {
		case paymentdomain.EventKindSubscriptionCreated, paymentdomain.EventKindUnrecognized:
			continue
		}
		if header := event.Header(); header.CustomerID == "" && record.CustomerID != nil {
			header.CustomerID = *record.CustomerID
		}

		outcome, err := s.handler.Apply(ctx, tx, event)
		if err != nil {
			return err
		}
		if outcome == paymentdomain.OutcomeIgnored {
			continue
		}

		processedAt := s.clock.Now()
		record.Outcome = outcome
		record.ProcessedAt = &processedAt
		if err := s.repo.MarkProcessed(ctx, tx, record); err != nil {
			return err
		}
		log.Info("deferred webhook event replayed",
			zap.String("deferred_event_id", record.EventID),
			zap.String("event_type", string(event.Kind())),
			zap.String("outcome", string(outcome)),
		)
	}
	return nil
}
