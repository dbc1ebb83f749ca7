package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	ledgerdomain "github.com/smallbiznis/referralledger/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const statementLineLimit = 500

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Policy  config.PolicySource
	Repo    ledgerdomain.Repository
	Brokers brokerdomain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	policy  config.PolicySource
	repo    ledgerdomain.Repository
	brokers brokerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ledger.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		brokers: p.Brokers,
	}
}

func (s *Service) PayableBalance(ctx context.Context, brokerID snowflake.ID) (int64, error) {
	if _, err := s.broker(ctx, brokerID); err != nil {
		return 0, err
	}
	return s.repo.PayableBalance(ctx, s.db, brokerID, s.clock.Now())
}

func (s *Service) PaymentReadiness(ctx context.Context, brokerID snowflake.ID) (ledgerdomain.PaymentReadiness, error) {
	broker, err := s.broker(ctx, brokerID)
	if err != nil {
		return ledgerdomain.PaymentReadiness{}, err
	}
	now := s.clock.Now()
	balance, err := s.repo.PayableBalance(ctx, s.db, brokerID, now)
	if err != nil {
		return ledgerdomain.PaymentReadiness{}, err
	}
	return s.readiness(broker, balance), nil
}

func (s *Service) Summary(ctx context.Context, brokerID snowflake.ID) (*ledgerdomain.Summary, error) {
	broker, err := s.broker(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	balance, err := s.repo.PayableBalance(ctx, s.db, brokerID, now)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.StatusTotals(ctx, s.db, brokerID)
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = []ledgerdomain.StatusTotal{}
	}

	return &ledgerdomain.Summary{
		BrokerID:        broker.ID,
		BrokerStatus:    string(broker.Status),
		CommissionModel: string(broker.CommissionModel),
		PayableBalance:  balance,
		PaidTotal:       broker.PaidTotal,
		Readiness:       s.readiness(broker, balance),
		ByStatus:        totals,
		AsOf:            now,
	}, nil
}

func (s *Service) Statement(ctx context.Context, brokerID snowflake.ID) (*ledgerdomain.Statement, error) {
	summary, err := s.Summary(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	broker, err := s.broker(ctx, brokerID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.StatementLines(ctx, s.db, brokerID, statementLineLimit+1)
	if err != nil {
		return nil, err
	}

	truncated := len(lines) > statementLineLimit
	if truncated {
		lines = lines[:statementLineLimit]
	}
	if lines == nil {
		lines = []ledgerdomain.StatementLine{}
	}
	currency := ""
	if len(lines) > 0 {
		currency = lines[0].Currency
	}

	return &ledgerdomain.Statement{
		BrokerName:   broker.Name,
		ReferralCode: broker.ReferralCode,
		Currency:     currency,
		Summary:      *summary,
		Lines:        lines,
		Truncated:    truncated,
	}, nil
}

func (s *Service) readiness(broker *brokerdomain.Broker, balance int64) ledgerdomain.PaymentReadiness {
	out := ledgerdomain.PaymentReadiness{Readiness: ledgerdomain.ReadinessReady}

	if !broker.IsApproved() {
		out.Reasons = append(out.Reasons, ledgerdomain.ReasonBrokerNotApproved)
	} else {
		eligibleAt := broker.ApprovedAt.Add(s.policy.Get().ActivationPeriod())
		out.EligibleAt = &eligibleAt
		if s.clock.Now().Before(eligibleAt) {
			out.Reasons = append(out.Reasons, ledgerdomain.ReasonActivationPending)
		}
	}
	if balance <= 0 {
		out.Reasons = append(out.Reasons, ledgerdomain.ReasonNoPayableBalance)
	}
	if !broker.HasPayoutDestination() {
		out.Reasons = append(out.Reasons, ledgerdomain.ReasonNoPayoutDestination)
	}

	if len(out.Reasons) > 0 {
		out.Readiness = ledgerdomain.ReadinessNotReady
	}
	return out
}

func (s *Service) broker(ctx context.Context, id snowflake.ID) (*brokerdomain.Broker, error) {
	broker, err := s.brokers.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if broker == nil {
		return nil, brokerdomain.ErrBrokerNotFound
	}
	return broker, nil
}
