package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/observability/logger"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type change struct {
	trigger   domain.Trigger
	eventID   string
	invoiceID string
	actor     auditdomain.ActorType
	metadata  map[string]any
	mutate    func(ref *domain.Referral)
}

// transition applies one edge of the transition table to ref. The write
// only lands if the row still carries the status and version ref was read
// with; otherwise ErrConcurrentModification is returned and nothing changes.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, ref *domain.Referral, c change) error {
	next, err := domain.Next(ref, c.trigger)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	policy := s.policy.Get()
	from, version := ref.Status, ref.Version
	updated := *ref

	switch {
	case c.trigger == domain.TriggerPaymentRecovered:
		if ref.PastDueInvoiceID == nil || *ref.PastDueInvoiceID != c.invoiceID {
			return domain.ErrInvalidTransition
		}
		updated.PriorStatus = nil
		updated.PastDueInvoiceID = nil
	case next == domain.StatusPastDue:
		prior := from
		updated.PriorStatus = &prior
		updated.PastDueInvoiceID = optionalString(c.invoiceID)
	case next == domain.StatusOnHold && from == domain.StatusFlagged:
		holdUntil := now.Add(policy.HoldPeriod())
		if ref.HoldUntil == nil || ref.HoldUntil.Before(holdUntil) {
			updated.HoldUntil = &holdUntil
		}
	case next == domain.StatusClawedBack:
		if ref.ClawbackUntil == nil || now.After(*ref.ClawbackUntil) {
			return domain.ErrClawbackWindowClosed
		}
	case next == domain.StatusPaid:
		paidAt := now
		clawbackUntil := now.Add(policy.ClawbackWindow())
		updated.PaidAt = &paidAt
		updated.ClawbackUntil = &clawbackUntil
	}
	if c.mutate != nil {
		c.mutate(&updated)
	}
	updated.Status = next
	if c.eventID != "" {
		eventID := c.eventID
		updated.LastEventID = &eventID
	}
	updated.UpdatedAt = now

	ok, err := s.repo.Save(ctx, tx, &updated, from, version)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrentModification
	}

	switch next {
	case domain.StatusPaid:
		err = s.brokers.AdjustPaidTotal(ctx, tx, ref.BrokerID, ref.Amount, now)
	case domain.StatusClawedBack:
		err = s.brokers.AdjustPaidTotal(ctx, tx, ref.BrokerID, -ref.Amount, now)
	}
	if err != nil {
		return err
	}

	*ref = updated
	s.metrics.RecordTransition(ctx, string(from), string(next), string(c.trigger))
	logger.WithReferral(logger.WithContext(ctx, s.log), int64(ref.ID), int64(ref.BrokerID)).Info("referral transitioned",
		zap.String("from", string(from)),
		zap.String("to", string(next)),
		zap.String("trigger", string(c.trigger)),
	)
	return s.recordTransition(ctx, tx, ref, from, c.trigger, c.actor, c.metadata)
}

// applyEvent runs an event-driven transition, re-reading the referral when
// another writer got there first. Edges missing from the table are no-ops
// so replayed or out-of-order events never fail.
func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, id snowflake.ID, c change) (bool, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		ref, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if ref == nil {
			return false, nil
		}

		err = s.transition(ctx, tx, ref, c)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, domain.ErrInvalidTransition):
			logger.WithReferral(logger.WithContext(ctx, s.log), int64(ref.ID), int64(ref.BrokerID)).Debug("event does not apply to referral",
				zap.String("status", string(ref.Status)),
				zap.String("trigger", string(c.trigger)),
			)
			return false, nil
		case errors.Is(err, domain.ErrClawbackWindowClosed):
			return false, s.recordLateReversal(ctx, tx, ref, c)
		case errors.Is(err, domain.ErrConcurrentModification):
			continue
		default:
			return false, err
		}
	}
	return false, domain.ErrConcurrentModification
}

func (s *Service) recordLateReversal(ctx context.Context, tx *gorm.DB, ref *domain.Referral, c change) error {
	var clawbackUntil string
	if ref.ClawbackUntil != nil {
		clawbackUntil = ref.ClawbackUntil.UTC().Format(time.RFC3339)
	}
	logger.WithReferral(logger.WithContext(ctx, s.log), int64(ref.ID), int64(ref.BrokerID)).Warn("reversal after clawback window ignored",
		zap.String("trigger", string(c.trigger)),
		zap.String("clawback_until", clawbackUntil),
	)
	return s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  c.actor,
		Action:     "referral.late_reversal_ignored",
		TargetType: "referral",
		TargetID:   ref.ID.String(),
		Metadata: map[string]any{
			"trigger":        string(c.trigger),
			"status":         string(ref.Status),
			"clawback_until": clawbackUntil,
			"amount":         ref.Amount,
		},
	})
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
