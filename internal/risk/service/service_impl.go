package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/observability/metrics"
	"github.com/smallbiznis/referralledger/internal/risk/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Policy  config.PolicySource
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	clock   clock.Clock
	policy  config.PolicySource
	repo    domain.Repository
	metrics *metrics.Metrics
	rules   []domain.Rule
}

func NewService(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("risk.service"),
		clock:   p.Clock,
		policy:  p.Policy,
		repo:    p.Repo,
		metrics: p.Metrics,
		rules:   DefaultRules(),
	}
}

func (s *Service) Assess(ctx context.Context, db *gorm.DB, input domain.Input) (*domain.Assessment, error) {
	if input.BrokerID == 0 || strings.TrimSpace(input.CustomerID) == "" {
		return nil, domain.ErrInvalidCandidate
	}

	candidate, err := s.gather(ctx, db, input)
	if err != nil {
		return nil, err
	}

	assessment := Score(candidate, thresholds(s.policy.Get()), s.rules)
	assessment.ScoredAt = s.clock.Now()

	s.metrics.RecordRiskDecision(ctx, string(assessment.Decision))
	s.log.Info("risk assessed",
		zap.String("customer_id", input.CustomerID),
		zap.Int64("broker_id", int64(input.BrokerID)),
		zap.Int("score", assessment.Total),
		zap.String("decision", string(assessment.Decision)),
		zap.Any("signals", signalCodes(assessment.Signals)),
	)
	return &assessment, nil
}

func (s *Service) gather(ctx context.Context, db *gorm.DB, input domain.Input) (domain.Candidate, error) {
	c := domain.Candidate{Input: input}

	var err error
	if c.FingerprintMatches, err = s.repo.CustomersWithFingerprint(ctx, db, input.PaymentFingerprint, input.CustomerID); err != nil {
		return c, fmt.Errorf("fingerprint lookup: %w", err)
	}
	if c.BrokerEmails, err = s.repo.BrokerEmails(ctx, db, input.BrokerID, input.CustomerID, brokerEmailSampleSize); err != nil {
		return c, fmt.Errorf("broker emails: %w", err)
	}
	if c.SharedIPCustomers, err = s.repo.CustomersWithSignupIP(ctx, db, input.BrokerID, input.SignupIP, input.CustomerID); err != nil {
		return c, fmt.Errorf("signup ip lookup: %w", err)
	}
	if c.PriorReferrals, err = s.repo.CountAttributions(ctx, db, input.BrokerID); err != nil {
		return c, fmt.Errorf("count attributions: %w", err)
	}
	if c.LinkVisitedAt == nil {
		if c.LinkVisitedAt, err = s.repo.LatestLinkVisit(ctx, db, input.BrokerID, input.SignupIP, input.SignupAt); err != nil {
			return c, fmt.Errorf("link visit lookup: %w", err)
		}
	}
	return c, nil
}

func thresholds(p config.CommissionPolicy) domain.Thresholds {
	return domain.Thresholds{
		FlagScore:     p.RiskThreshold,
		EmailDistance: p.EmailDistanceMax,
		LinkFast:      p.LinkFastWindow(),
		LinkSlow:      p.LinkSlowWindow(),
	}
}

func signalCodes(signals []domain.Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, fmt.Sprintf("%s:%d", s.Code, s.Points))
	}
	return out
}
