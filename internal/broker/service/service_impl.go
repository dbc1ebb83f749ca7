package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/audit/masking"
	"github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/observability/metrics"
	"github.com/smallbiznis/referralledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	codeAttempts   = 3
	codeSuffixSize = 6
	maxSlugLength  = 24
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Audit   auditdomain.Service
	Limiter domain.VisitLimiter `optional:"true"`
	Metrics *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	audit   auditdomain.Service
	limiter domain.VisitLimiter
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("broker.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Broker, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidEmail
	}
	model := domain.CommissionModel(strings.ToLower(strings.TrimSpace(req.CommissionModel)))
	if !model.Valid() {
		return nil, domain.ErrInvalidCommissionModel
	}

	now := s.clock.Now()
	broker := &domain.Broker{
		ID:              s.genID.Generate(),
		Name:            name,
		Email:           email,
		CommissionModel: model,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		broker.ReferralCode = newReferralCode(name)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := s.repo.Insert(ctx, tx, broker); err != nil {
				return err
			}
			return s.audit.Record(ctx, tx, auditdomain.Entry{
				Action:     "broker.registered",
				TargetType: "broker",
				TargetID:   broker.ID.String(),
				Metadata: map[string]any{
					"commission_model": string(model),
					"email":            masking.MaskEmail(email),
				},
			})
		})
		if err == nil {
			s.log.Info("broker registered",
				zap.Int64("broker_id", broker.ID.Int64()),
				zap.String("referral_code", broker.ReferralCode),
			)
			return broker, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
	}
	return nil, domain.ErrReferralCodeUnavailable
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Broker, error) {
	broker, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, domain.ErrBrokerNotFound
	}
	return broker, nil
}

// Approve activates the broker. Approving again with the same model is a no-op;
// a different model is rejected because the model is locked at approval.
func (s *Service) Approve(ctx context.Context, id snowflake.ID, req domain.ApproveRequest) (*domain.Broker, error) {
	var result *domain.Broker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		broker, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if broker == nil {
			return domain.ErrBrokerNotFound
		}

		model := broker.CommissionModel
		if raw := strings.TrimSpace(req.CommissionModel); raw != "" {
			model = domain.CommissionModel(strings.ToLower(raw))
			if !model.Valid() {
				return domain.ErrInvalidCommissionModel
			}
		}

		switch broker.Status {
		case domain.StatusApproved:
			if model != broker.CommissionModel {
				return domain.ErrModelImmutable
			}
			result = broker
			return nil
		case domain.StatusDenied:
			return domain.ErrInvalidBrokerStatus
		}

		now := s.clock.Now()
		ok, err := s.repo.UpdateStatus(ctx, tx, id, domain.StatusPending, domain.StatusApproved, model, &now, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrBrokerConcurrentModification
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     "broker.approved",
			TargetType: "broker",
			TargetID:   id.String(),
			Metadata:   map[string]any{"commission_model": string(model)},
		}); err != nil {
			return err
		}

		broker.Status = domain.StatusApproved
		broker.CommissionModel = model
		broker.ApprovedAt = &now
		broker.UpdatedAt = now
		result = broker
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) Deny(ctx context.Context, id snowflake.ID) (*domain.Broker, error) {
	var result *domain.Broker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		broker, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if broker == nil {
			return domain.ErrBrokerNotFound
		}
		if broker.Status == domain.StatusDenied {
			result = broker
			return nil
		}

		now := s.clock.Now()
		ok, err := s.repo.UpdateStatus(ctx, tx, id, broker.Status, domain.StatusDenied, broker.CommissionModel, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrBrokerConcurrentModification
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     "broker.denied",
			TargetType: "broker",
			TargetID:   id.String(),
			Metadata:   map[string]any{"from": string(broker.Status)},
		}); err != nil {
			return err
		}

		broker.Status = domain.StatusDenied
		broker.UpdatedAt = now
		result = broker
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) SetPayoutDestination(ctx context.Context, id snowflake.ID, destination string) (*domain.Broker, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" || strings.ContainsAny(destination, " \t\n") {
		return nil, domain.ErrInvalidPayoutDestination
	}

	var result *domain.Broker
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		broker, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if broker == nil {
			return domain.ErrBrokerNotFound
		}

		now := s.clock.Now()
		if err := s.repo.UpdatePayoutDestination(ctx, tx, id, destination, now); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, auditdomain.Entry{
			Action:     "broker.payout_destination_set",
			TargetType: "broker",
			TargetID:   id.String(),
			Metadata:   map[string]any{"destination": masking.MaskSecret(destination)},
		}); err != nil {
			return err
		}

		broker.PayoutDestination = &destination
		broker.UpdatedAt = now
		result = broker
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordLinkVisit stores a click on a broker's referral link. The visit time
// later feeds the link-to-signup risk signal.
func (s *Service) RecordLinkVisit(ctx context.Context, req domain.LinkVisitRequest) (*domain.Broker, error) {
	code := strings.ToLower(strings.TrimSpace(req.ReferralCode))
	if code == "" {
		return nil, domain.ErrBrokerNotFound
	}

	broker, err := s.repo.FindByReferralCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if broker == nil || broker.Status != domain.StatusApproved {
		return nil, domain.ErrBrokerNotFound
	}

	if s.limiter != nil {
		allowed, err := s.limiter.AllowVisit(ctx, code, req.VisitorIP)
		if err != nil {
			// Redis trouble must not break referral links.
			s.log.Warn("link visit limiter unavailable", zap.Error(err))
		} else if !allowed {
			s.log.Info("link visit rate limited",
				zap.String("referral_code", code),
				zap.String("visitor_network", masking.MaskIP(req.VisitorIP)),
			)
			s.metrics.RecordLinkVisitDenied(ctx, "rate_limited")
			return broker, domain.ErrLinkVisitRateLimited
		}
	}

	visit := &domain.LinkVisit{
		ID:        s.genID.Generate(),
		BrokerID:  broker.ID,
		VisitorIP: strings.TrimSpace(req.VisitorIP),
		VisitedAt: s.clock.Now(),
	}
	if ua := strings.TrimSpace(req.UserAgent); ua != "" {
		visit.UserAgent = &ua
	}
	if err := s.repo.InsertLinkVisit(ctx, s.db, visit); err != nil {
		return nil, err
	}
	return broker, nil
}

func newReferralCode(name string) string {
	base := slug.Make(name)
	if len(base) > maxSlugLength {
		base = strings.Trim(base[:maxSlugLength], "-")
	}
	id := strings.ToLower(ulid.Make().String())
	suffix := id[len(id)-codeSuffixSize:]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
