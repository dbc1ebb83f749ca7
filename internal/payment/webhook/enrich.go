package webhook

import (
	"context"
	"errors"
	"strings"

	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// enrich fills fields the webhook payload left empty using the platform API.
// Lookups run concurrently and never hold a database transaction open.
// Failures degrade to fewer risk signals rather than rejecting the event.
func (s *Service) enrich(ctx context.Context, event paymentdomain.Event) {
	if s.platform == nil {
		return
	}

	switch ev := event.(type) {
	case *paymentdomain.SubscriptionCreated:
		s.enrichSubscription(ctx, ev)
	case *paymentdomain.DisputeOpened:
		if ev.CustomerID != "" && ev.InvoiceID != "" {
			return
		}
		s.enrichCharge(ctx, ev.ChargeID, &ev.Envelope, &ev.InvoiceID)
	case *paymentdomain.ChargeRefunded:
		if ev.CustomerID != "" && ev.InvoiceID != "" {
			return
		}
		s.enrichCharge(ctx, ev.ChargeID, &ev.Envelope, &ev.InvoiceID)
	}
}

func (s *Service) enrichSubscription(ctx context.Context, ev *paymentdomain.SubscriptionCreated) {
	if ev.CustomerID == "" {
		return
	}

	var (
		level   paymentdomain.RiskLevel
		profile paymentdomain.CustomerProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	if ev.PlatformRisk == paymentdomain.RiskLevelUnknown {
		g.Go(func() error {
			out, err := s.platform.RiskLevel(gctx, ev.CustomerID)
			if err != nil {
				s.logEnrichError("risk_level", ev.ID, err)
				return nil
			}
			level = out
			return nil
		})
	}
	if ev.Email == "" || ev.PaymentFingerprint == "" {
		g.Go(func() error {
			out, err := s.platform.CustomerProfile(gctx, ev.CustomerID)
			if err != nil {
				s.logEnrichError("customer_profile", ev.ID, err)
				return nil
			}
			profile = out
			return nil
		})
	}
	_ = g.Wait()

	if level != paymentdomain.RiskLevelUnknown {
		ev.PlatformRisk = level
	}
	if ev.Email == "" {
		ev.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	}
	if ev.PaymentFingerprint == "" {
		ev.PaymentFingerprint = profile.PaymentFingerprint
	}
}

func (s *Service) enrichCharge(ctx context.Context, chargeID string, env *paymentdomain.Envelope, invoiceID *string) {
	if chargeID == "" {
		return
	}
	details, err := s.platform.ChargeDetails(ctx, chargeID)
	if err != nil {
		s.logEnrichError("charge_details", env.ID, err)
		return
	}
	if env.CustomerID == "" {
		env.CustomerID = details.CustomerID
	}
	if *invoiceID == "" {
		*invoiceID = details.InvoiceID
	}
}

func (s *Service) logEnrichError(lookup, eventID string, err error) {
	if errors.Is(err, paymentdomain.ErrPlatformNotConfigured) {
		return
	}
	s.log.Warn("platform enrichment failed",
		zap.String("lookup", lookup),
		zap.String("event_id", eventID),
		zap.Error(err),
	)
}
