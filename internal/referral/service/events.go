package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	riskdomain "github.com/smallbiznis/referralledger/internal/risk/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var recurringBillingReasons = map[string]struct{}{
	"subscription_create": {},
	"subscription_cycle":  {},
}

// Apply runs a verified platform event against referral state inside the
// ingest transaction.
func (s *Service) Apply(ctx context.Context, tx *gorm.DB, event paymentdomain.Event) (paymentdomain.Outcome, error) {
	switch ev := event.(type) {
	case *paymentdomain.SubscriptionCreated:
		return s.onSubscriptionCreated(ctx, tx, ev)
	case *paymentdomain.InvoicePaid:
		return s.onInvoicePaid(ctx, tx, ev)
	case *paymentdomain.SubscriptionCanceled:
		return s.onCustomerEvent(ctx, tx, ev, domain.TriggerSubscriptionCanceled, "", nil)
	case *paymentdomain.InvoicePaymentFailed:
		return s.onCustomerEvent(ctx, tx, ev, domain.TriggerPaymentFailed, ev.InvoiceID, nil)
	case *paymentdomain.ChargeRefunded:
		return s.onReversal(ctx, tx, ev, domain.TriggerRefund, ev.InvoiceID, map[string]any{
			"charge_id":       ev.ChargeID,
			"amount_refunded": ev.AmountRefunded,
		})
	case *paymentdomain.DisputeOpened:
		return s.onReversal(ctx, tx, ev, domain.TriggerDispute, ev.InvoiceID, map[string]any{
			"dispute_id": ev.DisputeID,
			"charge_id":  ev.ChargeID,
			"reason":     ev.Reason,
		})
	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) onSubscriptionCreated(ctx context.Context, tx *gorm.DB, ev *paymentdomain.SubscriptionCreated) (paymentdomain.Outcome, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("customer_id", ev.CustomerID))

	code := strings.TrimSpace(ev.ReferralCode)
	if code == "" || ev.CustomerID == "" {
		log.Debug("subscription has no referral code")
		return paymentdomain.OutcomeIgnored, nil
	}

	broker, err := s.brokers.FindByReferralCode(ctx, tx, code)
	if err != nil {
		return "", err
	}
	if broker == nil || !broker.IsApproved() {
		reason := "unknown_referral_code"
		if broker != nil {
			reason = "broker_not_approved"
		}
		log.Warn("referral ignored", zap.String("referral_code", code), zap.String("reason", reason))
		return paymentdomain.OutcomeIgnored, s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypePlatform,
			Action:     "referral.ignored",
			TargetType: "customer",
			TargetID:   ev.CustomerID,
			Metadata:   map[string]any{"referral_code": code, "reason": reason},
		})
	}

	existing, err := s.repo.FindAttributionByCustomer(ctx, tx, ev.CustomerID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		log.Info("customer already attributed", zap.Int64("broker_id", int64(existing.BrokerID)))
		return paymentdomain.OutcomeNoop, nil
	}

	now := s.clock.Now()
	signupAt := ev.OccurredAt()
	if signupAt.IsZero() {
		signupAt = now
	}
	assessment, err := s.risk.Assess(ctx, tx, riskdomain.Input{
		BrokerID:           broker.ID,
		CustomerID:         ev.CustomerID,
		Email:              ev.Email,
		PaymentFingerprint: ev.PaymentFingerprint,
		SignupIP:           ev.SignupIP,
		SignupAt:           signupAt,
		LinkVisitedAt:      ev.LinkVisitedAt,
		PlatformRisk:       string(ev.PlatformRisk),
	})
	if err != nil {
		return "", fmt.Errorf("assess risk: %w", err)
	}
	assessmentJSON, err := json.Marshal(assessment)
	if err != nil {
		return "", err
	}

	attribution := &domain.Attribution{
		ID:                 s.genID.Generate(),
		BrokerID:           broker.ID,
		CustomerID:         ev.CustomerID,
		SubscriptionID:     optionalString(ev.SubscriptionID),
		Email:              ev.Email,
		PaymentFingerprint: ev.PaymentFingerprint,
		SignupIP:           ev.SignupIP,
		SignupAt:           signupAt,
		RiskScore:          assessment.Total,
		RiskDecision:       string(assessment.Decision),
		RiskAssessment:     datatypes.JSON(assessmentJSON),
		SourceEventID:      ev.ID,
		CreatedAt:          now,
	}
	inserted, err := s.repo.InsertAttribution(ctx, tx, attribution)
	if err != nil {
		return "", err
	}
	if !inserted {
		return paymentdomain.OutcomeNoop, nil
	}
	if err := s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypePlatform,
		Action:     "attribution.created",
		TargetType: "customer",
		TargetID:   ev.CustomerID,
		Metadata: map[string]any{
			"broker_id":  broker.ID.String(),
			"risk_score": assessment.Total,
			"decision":   string(assessment.Decision),
			"signals":    assessment.Signals,
		},
	}); err != nil {
		return "", err
	}

	if broker.CommissionModel != brokerdomain.CommissionModelBounty {
		return paymentdomain.OutcomeApplied, nil
	}
	if _, err := s.createReferral(ctx, tx, broker, attribution, domain.PayoutTypeBounty, "", "", ev.ID); err != nil {
		return "", err
	}
	return paymentdomain.OutcomeApplied, nil
}

func (s *Service) onInvoicePaid(ctx context.Context, tx *gorm.DB, ev *paymentdomain.InvoicePaid) (paymentdomain.Outcome, error) {
	if ev.CustomerID == "" {
		return paymentdomain.OutcomeIgnored, nil
	}
	attribution, err := s.repo.FindAttributionByCustomer(ctx, tx, ev.CustomerID)
	if err != nil {
		return "", err
	}
	if attribution == nil {
		return paymentdomain.OutcomeIgnored, nil
	}

	changed := false
	if ev.InvoiceID != "" {
		refs, err := s.repo.ListByCustomer(ctx, tx, ev.CustomerID)
		if err != nil {
			return "", err
		}
		for _, ref := range refs {
			if ref.Status != domain.StatusPastDue || ref.PastDueInvoiceID == nil || *ref.PastDueInvoiceID != ev.InvoiceID {
				continue
			}
			ok, err := s.applyEvent(ctx, tx, ref.ID, change{
				trigger:   domain.TriggerPaymentRecovered,
				eventID:   ev.ID,
				invoiceID: ev.InvoiceID,
				actor:     auditdomain.ActorTypePlatform,
			})
			if err != nil {
				return "", err
			}
			changed = changed || ok
		}
	}

	if _, ok := recurringBillingReasons[ev.BillingReason]; ok && ev.BillingPeriod() != "" {
		broker, err := s.brokers.FindByID(ctx, tx, attribution.BrokerID)
		if err != nil {
			return "", err
		}
		if broker.IsApproved() && broker.CommissionModel == brokerdomain.CommissionModelRecurring {
			created, err := s.createReferral(ctx, tx, broker, attribution, domain.PayoutTypeRecurring, ev.BillingPeriod(), ev.InvoiceID, ev.ID)
			if err != nil {
				return "", err
			}
			changed = changed || created
		}
	}

	if changed {
		return paymentdomain.OutcomeApplied, nil
	}
	return paymentdomain.OutcomeNoop, nil
}

// createReferral inserts a commission whose initial status follows the
// attribution's risk decision. Duplicates are absorbed by the unique
// indexes and reported as not created.
func (s *Service) createReferral(ctx context.Context, tx *gorm.DB, broker *brokerdomain.Broker, attribution *domain.Attribution, payoutType domain.PayoutType, billingPeriod, invoiceID, eventID string) (bool, error) {
	now := s.clock.Now()
	policy := s.policy.Get()

	ref := &domain.Referral{
		ID:              s.genID.Generate(),
		BrokerID:        broker.ID,
		AttributionID:   attribution.ID,
		CustomerID:      attribution.CustomerID,
		PayoutType:      payoutType,
		Amount:          domain.PayoutAmount(payoutType, policy),
		Currency:        s.currency,
		BillingPeriod:   billingPeriod,
		SourceInvoiceID: optionalString(invoiceID),
		RiskScore:       attribution.RiskScore,
		RiskAssessment:  attribution.RiskAssessment,
		LastEventID:     optionalString(eventID),
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if riskdomain.Decision(attribution.RiskDecision) == riskdomain.DecisionFlagged {
		ref.Status = domain.StatusFlagged
	} else {
		holdUntil := now.Add(policy.HoldPeriod())
		ref.Status = domain.StatusOnHold
		ref.HoldUntil = &holdUntil
	}

	inserted, err := s.repo.InsertReferral(ctx, tx, ref)
	if err != nil {
		return false, err
	}
	log := logger.WithReferral(logger.WithContext(ctx, s.log), int64(ref.ID), int64(broker.ID))
	if !inserted {
		log.Info("referral already exists",
			zap.String("customer_id", ref.CustomerID),
			zap.String("payout_type", string(payoutType)),
			zap.String("billing_period", billingPeriod),
		)
		return false, nil
	}

	s.metrics.RecordTransition(ctx, "", string(ref.Status), "created")
	log.Info("referral created",
		zap.String("status", string(ref.Status)),
		zap.String("payout_type", string(payoutType)),
		zap.Int64("amount", ref.Amount),
		zap.Int("risk_score", ref.RiskScore),
	)
	return true, s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypePlatform,
		Action:     "referral.created",
		TargetType: "referral",
		TargetID:   ref.ID.String(),
		Metadata: map[string]any{
			"broker_id":      broker.ID.String(),
			"customer_id":    ref.CustomerID,
			"payout_type":    string(payoutType),
			"amount":         ref.Amount,
			"status":         string(ref.Status),
			"billing_period": billingPeriod,
		},
	})
}

// onCustomerEvent applies trigger to every referral of the event's customer
// for which the transition table has an edge.
func (s *Service) onCustomerEvent(ctx context.Context, tx *gorm.DB, ev paymentdomain.Event, trigger domain.Trigger, invoiceID string, metadata map[string]any) (paymentdomain.Outcome, error) {
	if ev.Customer() == "" {
		return paymentdomain.OutcomeIgnored, nil
	}
	refs, err := s.repo.ListByCustomer(ctx, tx, ev.Customer())
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return paymentdomain.OutcomeIgnored, nil
	}
	return s.applyAll(ctx, tx, refs, change{
		trigger:   trigger,
		eventID:   ev.EventID(),
		invoiceID: invoiceID,
		actor:     auditdomain.ActorTypePlatform,
		metadata:  metadata,
	})
}

// onReversal targets the referral created from the refunded invoice when
// there is one, otherwise the customer's bounty.
func (s *Service) onReversal(ctx context.Context, tx *gorm.DB, ev paymentdomain.Event, trigger domain.Trigger, invoiceID string, metadata map[string]any) (paymentdomain.Outcome, error) {
	if ev.Customer() == "" {
		logger.WithContext(ctx, s.log).Warn("reversal without customer ignored", zap.String("trigger", string(trigger)))
		return paymentdomain.OutcomeIgnored, nil
	}
	refs, err := s.repo.ListByCustomer(ctx, tx, ev.Customer())
	if err != nil {
		return "", err
	}
	if len(refs) == 0 {
		return paymentdomain.OutcomeIgnored, nil
	}

	var targets []*domain.Referral
	if invoiceID != "" {
		for _, ref := range refs {
			if ref.SourceInvoiceID != nil && *ref.SourceInvoiceID == invoiceID {
				targets = append(targets, ref)
			}
		}
	}
	if len(targets) == 0 {
		for _, ref := range refs {
			if ref.PayoutType == domain.PayoutTypeBounty {
				targets = append(targets, ref)
			}
		}
	}
	if len(targets) == 0 {
		return paymentdomain.OutcomeNoop, nil
	}

	return s.applyAll(ctx, tx, targets, change{
		trigger:   trigger,
		eventID:   ev.EventID(),
		invoiceID: invoiceID,
		actor:     auditdomain.ActorTypePlatform,
		metadata:  metadata,
	})
}

func (s *Service) applyAll(ctx context.Context, tx *gorm.DB, refs []*domain.Referral, c change) (paymentdomain.Outcome, error) {
	changed := false
	for _, ref := range refs {
		ok, err := s.applyEvent(ctx, tx, ref.ID, c)
		if err != nil {
			return "", err
		}
		changed = changed || ok
	}
	if changed {
		return paymentdomain.OutcomeApplied, nil
	}
	return paymentdomain.OutcomeNoop, nil
}
