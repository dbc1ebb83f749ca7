package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTransferReferenceLength = 255

// Approve clears a flagged referral and starts its hold. Approving a
// referral that is already on hold is a no-op.
func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*domain.Referral, error) {
	return s.adminTransition(ctx, id, domain.StatusOnHold, change{
		trigger: domain.TriggerAdminApprove,
		actor:   auditdomain.ActorTypeAdmin,
	})
}

func (s *Service) Reject(ctx context.Context, id snowflake.ID, req domain.RejectRequest) (*domain.Referral, error) {
	var metadata map[string]any
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		metadata = map[string]any{"reason": reason}
	}
	return s.adminTransition(ctx, id, domain.StatusCanceled, change{
		trigger:  domain.TriggerAdminReject,
		actor:    auditdomain.ActorTypeAdmin,
		metadata: metadata,
	})
}

// Release ends a hold early.
func (s *Service) Release(ctx context.Context, id snowflake.ID) (*domain.Referral, error) {
	return s.adminTransition(ctx, id, domain.StatusReadyToPay, change{
		trigger: domain.TriggerAdminRelease,
		actor:   auditdomain.ActorTypeAdmin,
	})
}

func (s *Service) adminTransition(ctx context.Context, id snowflake.ID, settled domain.Status, c change) (*domain.Referral, error) {
	var out *domain.Referral
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if ref == nil {
			return domain.ErrReferralNotFound
		}
		if ref.Status == settled {
			out = ref
			return nil
		}
		if err := s.transition(ctx, tx, ref, c); err != nil {
			return err
		}
		out = ref
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaid claims the referral for reference, requests the payout transfer
// and only then records the referral as paid. The claim is committed before
// any money moves, so a concurrent call with another reference is refused
// with ErrPayoutInProgress. A failed transfer leaves the referral
// ready_to_pay and still claimed; retries must reuse the reference, which is
// also the platform idempotency key.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, req domain.MarkPaidRequest) (*domain.Referral, error) {
	reference := strings.TrimSpace(req.TransferReference)
	if reference == "" {
		reference = fmt.Sprintf("referral-%d", int64(id))
	}
	if len(reference) > maxTransferReferenceLength {
		return nil, domain.ErrInvalidTransferReference
	}

	ref, destination, err := s.claimPayout(ctx, id, reference)
	if err != nil {
		return nil, err
	}
	if ref.Status == domain.StatusPaid {
		return ref, nil
	}

	log := logger.WithReferral(logger.WithContext(ctx, s.log), int64(ref.ID), int64(ref.BrokerID))
	result, err := s.platform.Transfer(ctx, paymentdomain.TransferRequest{
		Reference:   reference,
		Destination: destination,
		Amount:      ref.Amount,
		Currency:    ref.Currency,
		Metadata: map[string]string{
			"referral_id": ref.ID.String(),
			"broker_id":   ref.BrokerID.String(),
			"payout_type": string(ref.PayoutType),
		},
	})
	if err != nil {
		s.metrics.RecordTransfer(ctx, "failed")
		log.Error("payout transfer failed", zap.String("transfer_reference", reference), zap.Error(err))
		if auditErr := s.audit.Record(ctx, s.db, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypeAdmin,
			Action:     "referral.transfer_failed",
			TargetType: "referral",
			TargetID:   ref.ID.String(),
			Metadata: map[string]any{
				"transfer_reference": reference,
				"amount":             ref.Amount,
				"error":              err.Error(),
			},
		}); auditErr != nil {
			log.Warn("failed to audit transfer failure", zap.Error(auditErr))
		}
		if errors.Is(err, paymentdomain.ErrTransferFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrTransferFailed, err)
	}
	s.metrics.RecordTransfer(ctx, "succeeded")

	out, err := s.finalizePayout(ctx, id, reference, result.TransferID)
	if err != nil {
		// The money has moved. Surface loudly so an operator reconciles.
		log.Error("transfer succeeded but referral was not marked paid",
			zap.String("transfer_reference", reference),
			zap.String("transfer_id", result.TransferID),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

// claimPayout stores reference on a ready_to_pay referral under the status
// and version guard. It returns the referral already paid under reference
// unchanged, and the payout destination to transfer to otherwise.
func (s *Service) claimPayout(ctx context.Context, id snowflake.ID, reference string) (*domain.Referral, string, error) {
	var (
		out         *domain.Referral
		destination string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ref, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if ref == nil {
			return domain.ErrReferralNotFound
		}
		if ref.Status == domain.StatusPaid {
			if claimedBy(ref, reference) {
				out = ref
				return nil
			}
			return domain.ErrInvalidTransition
		}
		if !domain.Allowed(ref.Status, domain.TriggerMarkPaid) {
			return domain.ErrInvalidTransition
		}

		broker, err := s.brokers.FindByID(ctx, tx, ref.BrokerID)
		if err != nil {
			return err
		}
		if !broker.IsApproved() {
			return domain.ErrBrokerNotPayable
		}
		if !broker.HasPayoutDestination() {
			return domain.ErrPayoutDestinationMissing
		}
		destination = *broker.PayoutDestination

		if ref.TransferReference != nil {
			if !claimedBy(ref, reference) {
				return domain.ErrPayoutInProgress
			}
			out = ref
			return nil
		}

		claimed := *ref
		claimed.TransferReference = &reference
		claimed.UpdatedAt = s.clock.Now()
		ok, err := s.repo.Save(ctx, tx, &claimed, ref.Status, ref.Version)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrentModification
		}
		out = &claimed
		return s.audit.Record(ctx, tx, auditdomain.Entry{
			ActorType:  auditdomain.ActorTypeAdmin,
			Action:     "referral.payout_claimed",
			TargetType: "referral",
			TargetID:   ref.ID.String(),
			Metadata: map[string]any{
				"transfer_reference": reference,
				"amount":             ref.Amount,
			},
		})
	})
	if err != nil {
		return nil, "", err
	}
	return out, destination, nil
}

func (s *Service) finalizePayout(ctx context.Context, id snowflake.ID, reference, transferID string) (*domain.Referral, error) {
	var out *domain.Referral
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrReferralNotFound
		}
		if !claimedBy(current, reference) {
			return domain.ErrPayoutInProgress
		}
		if current.Status == domain.StatusPaid {
			out = current
			return nil
		}
		err = s.transition(ctx, tx, current, change{
			trigger: domain.TriggerMarkPaid,
			actor:   auditdomain.ActorTypeAdmin,
			metadata: map[string]any{
				"transfer_reference": reference,
				"transfer_id":        transferID,
			},
			mutate: func(r *domain.Referral) {
				tid := transferID
				r.TransferID = &tid
			},
		})
		if err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func claimedBy(ref *domain.Referral, reference string) bool {
	return ref.TransferReference != nil && *ref.TransferReference == reference
}
