package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	riskdomain "github.com/smallbiznis/referralledger/internal/risk/domain"
	"github.com/smallbiznis/referralledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTransitionAttempts = 3

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Policy   config.PolicySource
	Repo     domain.Repository
	Brokers  brokerdomain.Repository
	Risk     riskdomain.Service
	Audit    auditdomain.Service
	Platform paymentdomain.PlatformClient
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   config.PolicySource
	repo     domain.Repository
	brokers  brokerdomain.Repository
	risk     riskdomain.Service
	audit    auditdomain.Service
	platform paymentdomain.PlatformClient
	metrics  *metrics.Metrics
	currency string
}

func NewService(p Params) *Service {
	currency := strings.ToLower(strings.TrimSpace(p.Cfg.Stripe.PayoutCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("referral.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		brokers:  p.Brokers,
		risk:     p.Risk,
		audit:    p.Audit,
		platform: p.Platform,
		metrics:  p.Metrics,
		currency: currency,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Referral, error) {
	ref, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, domain.ErrReferralNotFound
	}
	return ref, nil
}

func (s *Service) ListByBroker(ctx context.Context, brokerID snowflake.ID, req domain.ListRequest) (domain.ListResponse, error) {
	status := domain.Status(strings.TrimSpace(req.Status))
	if status != "" && !status.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidStatusFilter
	}
	afterID, err := pagination.AfterID(req.PageToken)
	if err != nil {
		return domain.ListResponse{}, domain.ErrInvalidStatusFilter
	}

	limit := req.Limit()
	items, err := s.repo.ListByBroker(ctx, s.db, domain.ListFilter{
		BrokerID: brokerID,
		Status:   status,
		AfterID:  snowflake.ID(afterID),
		Limit:    limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(r *domain.Referral) int64 {
		return int64(r.ID)
	})
	if items == nil {
		items = []*domain.Referral{}
	}
	return domain.ListResponse{Referrals: items, PageInfo: pageInfo}, nil
}

func (s *Service) DueHolds(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	return s.repo.ListDueHolds(ctx, s.db, s.clock.Now(), afterID, limit)
}

func (s *Service) PromoteHold(ctx context.Context, id snowflake.ID) (bool, error) {
	var promoted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		ok, err := s.repo.PromoteHold(ctx, tx, id, now)
		if err != nil || !ok {
			return err
		}
		promoted = true

		ref, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if ref == nil {
			return domain.ErrReferralNotFound
		}
		s.metrics.RecordTransition(ctx, string(domain.StatusOnHold), string(domain.StatusReadyToPay), string(domain.TriggerHoldExpired))
		return s.recordTransition(ctx, tx, ref, domain.StatusOnHold, domain.TriggerHoldExpired, auditdomain.ActorTypeSystem, nil)
	})
	if err != nil {
		return false, err
	}
	return promoted, nil
}

func (s *Service) recordTransition(ctx context.Context, tx *gorm.DB, ref *domain.Referral, from domain.Status, trigger domain.Trigger, actor auditdomain.ActorType, extra map[string]any) error {
	metadata := map[string]any{
		"from":      string(from),
		"to":        string(ref.Status),
		"trigger":   string(trigger),
		"broker_id": ref.BrokerID.String(),
		"version":   ref.Version,
	}
	for key, value := range extra {
		metadata[key] = value
	}
	return s.audit.Record(ctx, tx, auditdomain.Entry{
		ActorType:  actor,
		Action:     "referral.transitioned",
		TargetType: "referral",
		TargetID:   ref.ID.String(),
		Metadata:   metadata,
	})
}
