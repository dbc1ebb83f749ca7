package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/payment/adapters"
	"github.com/smallbiznis/referralledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/referralledger/internal/payment/repository"
	"github.com/smallbiznis/referralledger/internal/payment/webhook"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newWebhookService(f fixture) paymentdomain.WebhookService {
	return webhook.NewService(webhook.Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		GenID:    f.node,
		Clock:    f.clock,
		Cfg:      config.Config{Stripe: config.StripeConfig{WebhookSecret: "whsec_flow", WebhookTolerance: 300}},
		Adapters: adapters.NewRegistry(stripe.NewFactory()),
		Repo:     paymentrepo.Provide(),
		Handler:  f.svc,
	})
}

func TestDuplicateWebhookDeliveriesCreateOneReferral(t *testing.T) {
	f := newFixture(t)
	f.seedBroker(t, "acme", brokerdomain.CommissionModelBounty, "")
	ingest := newWebhookService(f)

	payload, err := json.Marshal(map[string]any{
		"id":      "evt_dup",
		"type":    "customer.subscription.created",
		"created": engineStart.Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "sub_1",
				"customer": "cus_1",
				"created":  engineStart.Unix(),
				"metadata": map[string]any{
					"referral_code":  "acme",
					"customer_email": "buyer@example.com",
					"risk_level":     "normal",
				},
			},
		},
	})
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripe.SignatureHeader("whsec_flow", payload, engineStart))

	const deliveries = 5
	outcomes := make([]paymentdomain.Outcome, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := ingest.Ingest(context.Background(), "stripe", payload, headers)
			assert.NoError(t, err)
			outcomes[i] = result.Outcome
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, outcome := range outcomes {
		switch outcome {
		case paymentdomain.OutcomeApplied:
			applied++
		case paymentdomain.OutcomeAlreadyProcessed:
		default:
			t.Fatalf("unexpected outcome %q", outcome)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, f.referrals(t, "cus_1"), 1)

	var attributions int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM referred_customers WHERE customer_id = ?`, "cus_1").Scan(&attributions).Error)
	assert.Equal(t, int64(1), attributions)
}

func deliver(t *testing.T, ingest paymentdomain.WebhookService, event map[string]any) paymentdomain.IngestResult {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripe.SignatureHeader("whsec_flow", payload, engineStart))
	result, err := ingest.Ingest(context.Background(), "stripe", payload, headers)
	require.NoError(t, err)
	return result
}

func stripeEvent(eventID, eventType string, object map[string]any) map[string]any {
	return map[string]any{
		"id":      eventID,
		"type":    eventType,
		"created": engineStart.Unix(),
		"data":    map[string]any{"object": object},
	}
}

func subscriptionCreatedEvent(eventID, customerID, code string) map[string]any {
	return stripeEvent(eventID, "customer.subscription.created", map[string]any{
		"id":       "sub_" + customerID,
		"customer": customerID,
		"created":  engineStart.Unix(),
		"metadata": map[string]any{
			"referral_code":  code,
			"customer_email": customerID + "@example.com",
			"risk_level":     "normal",
		},
	})
}

func TestRecurringInvoiceBeforeSubscriptionStillEarns(t *testing.T) {
	f := newFixture(t)
	broker := f.seedBroker(t, "steady", brokerdomain.CommissionModelRecurring, "")
	ingest := newWebhookService(f)
	periodStart := engineStart.Truncate(24 * time.Hour)

	invoice := deliver(t, ingest, stripeEvent("evt_inv_1", "invoice.paid", map[string]any{
		"id":             "in_1",
		"customer":       "cus_1",
		"subscription":   "sub_cus_1",
		"billing_reason": "subscription_create",
		"amount_paid":    9900,
		"currency":       "usd",
		"lines": map[string]any{
			"data": []any{map[string]any{
				"period": map[string]any{"start": periodStart.Unix(), "end": periodStart.AddDate(0, 1, 0).Unix()},
			}},
		},
	}))
	assert.Equal(t, paymentdomain.OutcomeIgnored, invoice.Outcome)
	assert.Empty(t, f.referrals(t, "cus_1"))

	sub := deliver(t, ingest, subscriptionCreatedEvent("evt_sub_1", "cus_1", "steady"))
	assert.Equal(t, paymentdomain.OutcomeApplied, sub.Outcome)

	ref := f.only(t, "cus_1")
	assert.Equal(t, broker.ID, ref.BrokerID)
	assert.Equal(t, domain.PayoutTypeRecurring, ref.PayoutType)
	assert.Equal(t, domain.StatusOnHold, ref.Status)
	assert.Equal(t, periodStart.Format("2006-01-02"), ref.BillingPeriod)
	require.NotNil(t, ref.SourceInvoiceID)
	assert.Equal(t, "in_1", *ref.SourceInvoiceID)

	var outcome string
	require.NoError(t, f.db.Raw(`SELECT outcome FROM webhook_events WHERE event_id = ?`, "evt_inv_1").Scan(&outcome).Error)
	assert.Equal(t, string(paymentdomain.OutcomeApplied), outcome)
}

func TestCancellationBeforeSubscriptionCancelsBounty(t *testing.T) {
	f := newFixture(t)
	f.seedBroker(t, "acme", brokerdomain.CommissionModelBounty, "")
	ingest := newWebhookService(f)

	canceled := deliver(t, ingest, stripeEvent("evt_del_1", "customer.subscription.deleted", map[string]any{
		"id":       "sub_cus_1",
		"customer": "cus_1",
	}))
	assert.Equal(t, paymentdomain.OutcomeIgnored, canceled.Outcome)

	sub := deliver(t, ingest, subscriptionCreatedEvent("evt_sub_1", "cus_1", "acme"))
	assert.Equal(t, paymentdomain.OutcomeApplied, sub.Outcome)

	ref := f.only(t, "cus_1")
	assert.Equal(t, domain.PayoutTypeBounty, ref.PayoutType)
	assert.Equal(t, domain.StatusCanceled, ref.Status)
	require.NotNil(t, ref.LastEventID)
	assert.Equal(t, "evt_del_1", *ref.LastEventID)
}
