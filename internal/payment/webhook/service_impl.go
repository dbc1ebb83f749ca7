package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	obscontext "github.com/smallbiznis/referralledger/internal/observability/context"
	"github.com/smallbiznis/referralledger/internal/observability/logger"
	"github.com/smallbiznis/referralledger/internal/observability/metrics"
	"github.com/smallbiznis/referralledger/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Adapters *adapters.Registry
	Repo     paymentdomain.Repository
	Handler  paymentdomain.EventHandler
	Platform paymentdomain.PlatformClient `optional:"true"`
	Metrics  *metrics.Metrics             `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	adapters *adapters.Registry
	repo     paymentdomain.Repository
	handler  paymentdomain.EventHandler
	platform paymentdomain.PlatformClient
	metrics  *metrics.Metrics

	webhookSecret string
	tolerance     time.Duration
}

func NewService(p Params) paymentdomain.WebhookService {
	log := p.Log.Named("payment.webhook")
	secret := strings.TrimSpace(p.Cfg.Stripe.WebhookSecret)
	if secret == "" {
		log.Warn("webhook secret not configured, every delivery will be rejected")
	}
	log.Info("payment webhooks registered", zap.Strings("providers", p.Adapters.Providers()))

	return &Service{
		db:            p.DB,
		log:           log,
		genID:         p.GenID,
		clock:         p.Clock,
		adapters:      p.Adapters,
		repo:          p.Repo,
		handler:       p.Handler,
		platform:      p.Platform,
		metrics:       p.Metrics,
		webhookSecret: secret,
		tolerance:     time.Duration(p.Cfg.Stripe.WebhookTolerance) * time.Second,
	}
}

// Ingest verifies, records and applies one webhook delivery. Redelivered
// events return OutcomeAlreadyProcessed without touching any state. Any
// error other than a rejected delivery rolls the whole event back so the
// platform retries it.
func (s *Service) Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.IngestResult{}, paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.IngestResult{}, paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		WebhookSecret: s.webhookSecret,
		Tolerance:     s.tolerance,
		Now:           s.clock.Now,
	})
	if err != nil {
		return paymentdomain.IngestResult{}, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Error(err))
		s.metrics.RecordWebhookEvent(ctx, provider, "", "rejected")
		return paymentdomain.IngestResult{}, err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, "", "rejected")
		return paymentdomain.IngestResult{}, err
	}

	ctx = obscontext.WithEventID(ctx, event.EventID())
	ctx = obscontext.WithActor(ctx, "platform", provider)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", provider),
		zap.String("event_type", string(event.Kind())),
	)

	result := paymentdomain.IngestResult{EventID: event.EventID(), Kind: event.Kind()}

	seen, err := s.repo.Exists(ctx, s.db, provider, event.EventID())
	if err != nil {
		return result, err
	}
	if seen {
		result.Outcome = paymentdomain.OutcomeAlreadyProcessed
		s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind()), string(result.Outcome))
		log.Debug("webhook event already processed")
		return result, nil
	}

	if event.Kind() != paymentdomain.EventKindUnrecognized {
		s.enrich(ctx, event)
	}

	outcome, err := s.apply(ctx, provider, adapter, event, payload)
	if err != nil {
		log.Error("webhook event failed", zap.Error(err))
		s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind()), "error")
		return result, err
	}
	result.Outcome = outcome
	s.metrics.RecordWebhookEvent(ctx, provider, string(event.Kind()), string(outcome))
	log.Info("webhook event processed", zap.String("outcome", string(outcome)))
	return result, nil
}

func (s *Service) apply(ctx context.Context, provider string, adapter paymentdomain.PaymentAdapter, event paymentdomain.Event, payload []byte) (paymentdomain.Outcome, error) {
	var outcome paymentdomain.Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &paymentdomain.EventRecord{
			ID:         s.genID.Generate(),
			Provider:   provider,
			EventID:    event.EventID(),
			EventType:  event.Header().RawType,
			Payload:    datatypes.JSON(payload),
			Outcome:    paymentdomain.OutcomePending,
			ReceivedAt: s.clock.Now(),
		}
		if customer := event.Customer(); customer != "" {
			record.CustomerID = &customer
		}

		inserted, err := s.repo.Insert(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			outcome = paymentdomain.OutcomeAlreadyProcessed
			return nil
		}

		if event.Kind() == paymentdomain.EventKindUnrecognized {
			outcome = paymentdomain.OutcomeIgnored
		} else {
			outcome, err = s.handler.Apply(ctx, tx, event)
			if err != nil {
				return err
			}
		}

		// An applied subscription attributes its customer.
		if outcome == paymentdomain.OutcomeApplied && event.Kind() == paymentdomain.EventKindSubscriptionCreated {
			if err := s.replayDeferred(ctx, tx, provider, adapter, event); err != nil {
				return err
			}
		}

		processedAt := s.clock.Now()
		record.Outcome = outcome
		record.ProcessedAt = &processedAt
		return s.repo.MarkProcessed(ctx, tx, record)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// IsRejection reports whether err means the delivery itself was bad and
// retrying it cannot succeed.
func IsRejection(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidProvider) ||
		errors.Is(err, paymentdomain.ErrProviderNotFound) ||
		errors.Is(err, paymentdomain.ErrInvalidSignature) ||
		errors.Is(err, paymentdomain.ErrInvalidPayload) ||
		errors.Is(err, paymentdomain.ErrInvalidEvent) ||
		errors.Is(err, paymentdomain.ErrInvalidConfig)
}
