package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, tolerance time.Duration) *Adapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		WebhookSecret: "whsec_test",
		Tolerance:     tolerance,
		Now:           func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter.(*Adapter)
}

func TestNewAdapterRequiresSecret(t *testing.T) {
	if _, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{}); err != paymentdomain.ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{}}}`)
	adapter := newTestAdapter(t, 5*time.Minute)

	headers := http.Header{}
	headers.Set("Stripe-Signature", SignatureHeader("whsec_test", payload, fixedNow))
	if err := adapter.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}

	headers.Set("Stripe-Signature", SignatureHeader("wrong", payload, fixedNow))
	if err := adapter.Verify(context.Background(), payload, headers); err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected invalid signature error, got %v", err)
	}

	tampered := []byte(`{"id":"evt_123","type":"invoice.paid","data":{"object":{"x":1}}}`)
	headers.Set("Stripe-Signature", SignatureHeader("whsec_test", payload, fixedNow))
	if err := adapter.Verify(context.Background(), tampered, headers); err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected tampered payload to fail, got %v", err)
	}

	headers.Del("Stripe-Signature")
	if err := adapter.Verify(context.Background(), payload, headers); err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected missing header to fail, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_old"}`)
	adapter := newTestAdapter(t, 5*time.Minute)

	headers := http.Header{}
	headers.Set("Stripe-Signature", SignatureHeader("whsec_test", payload, fixedNow.Add(-10*time.Minute)))
	if err := adapter.Verify(context.Background(), payload, headers); err != paymentdomain.ErrInvalidSignature {
		t.Fatalf("expected stale signature to fail, got %v", err)
	}

	lenient := newTestAdapter(t, 0)
	if err := lenient.Verify(context.Background(), payload, headers); err != nil {
		t.Fatalf("expected tolerance 0 to skip age check, got %v", err)
	}
}

func mustParse(t *testing.T, adapter *Adapter, event map[string]any) paymentdomain.Event {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	parsed, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	return parsed
}

func TestParseSubscriptionCreated(t *testing.T) {
	adapter := newTestAdapter(t, 0)
	created := fixedNow.Unix()

	event := mustParse(t, adapter, map[string]any{
		"id":      "evt_sub",
		"type":    "customer.subscription.created",
		"created": created,
		"data": map[string]any{
			"object": map[string]any{
				"id":       "sub_1",
				"customer": "cus_1",
				"created":  created,
				"metadata": map[string]any{
					"referral_code":       "ACME-abc123",
					"customer_email":      "Jane@Example.com",
					"signup_ip":           "203.0.113.9",
					"payment_fingerprint": "fp_1",
					"referral_visit_at":   fixedNow.Add(-30 * time.Minute).Format(time.RFC3339),
					"risk_level":          "elevated",
				},
			},
		},
	})

	sub, ok := event.(*paymentdomain.SubscriptionCreated)
	if !ok {
		t.Fatalf("expected SubscriptionCreated, got %T", event)
	}
	if sub.Customer() != "cus_1" || sub.SubscriptionID != "sub_1" {
		t.Fatalf("unexpected ids: %+v", sub)
	}
	if sub.ReferralCode != "acme-abc123" || sub.Email != "jane@example.com" {
		t.Fatalf("expected normalized code and email, got %q %q", sub.ReferralCode, sub.Email)
	}
	if sub.LinkVisitedAt == nil || !sub.LinkVisitedAt.Equal(fixedNow.Add(-30*time.Minute)) {
		t.Fatalf("unexpected link visit time: %v", sub.LinkVisitedAt)
	}
	if sub.PlatformRisk != paymentdomain.RiskLevelElevated {
		t.Fatalf("expected elevated risk, got %q", sub.PlatformRisk)
	}
	if !sub.OccurredAt().Equal(fixedNow) {
		t.Fatalf("unexpected occurred at %v", sub.OccurredAt())
	}
}

func TestParseInvoicePaidUsesLinePeriod(t *testing.T) {
	adapter := newTestAdapter(t, 0)
	lineStart := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, eventType := range []string{"invoice.paid", "invoice.payment_succeeded"} {
		event := mustParse(t, adapter, map[string]any{
			"id":      "evt_" + eventType,
			"type":    eventType,
			"created": fixedNow.Unix(),
			"data": map[string]any{
				"object": map[string]any{
					"id":             "in_1",
					"customer":       map[string]any{"id": "cus_1", "object": "customer"},
					"subscription":   "sub_1",
					"billing_reason": "subscription_cycle",
					"amount_paid":    9900,
					"currency":       "USD",
					"period_start":   lineStart.AddDate(0, -1, 0).Unix(),
					"period_end":     lineStart.Unix(),
					"lines": map[string]any{
						"data": []any{map[string]any{
							"period": map[string]any{"start": lineStart.Unix(), "end": lineStart.AddDate(0, 1, 0).Unix()},
						}},
					},
				},
			},
		})

		paid, ok := event.(*paymentdomain.InvoicePaid)
		if !ok {
			t.Fatalf("%s: expected InvoicePaid, got %T", eventType, event)
		}
		if paid.Customer() != "cus_1" {
			t.Fatalf("%s: expanded customer not decoded: %q", eventType, paid.Customer())
		}
		if paid.BillingPeriod() != "2026-05-01" {
			t.Fatalf("%s: expected line period, got %s", eventType, paid.BillingPeriod())
		}
		if paid.Currency != "usd" || paid.AmountPaid != 9900 {
			t.Fatalf("%s: unexpected amount %d %s", eventType, paid.AmountPaid, paid.Currency)
		}
	}
}

func TestParseDisputeWithChargeID(t *testing.T) {
	adapter := newTestAdapter(t, 0)

	event := mustParse(t, adapter, map[string]any{
		"id":   "evt_dp",
		"type": "charge.dispute.created",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "dp_1",
				"charge":   "ch_1",
				"amount":   9900,
				"currency": "usd",
				"reason":   "fraudulent",
			},
		},
	})

	dispute, ok := event.(*paymentdomain.DisputeOpened)
	if !ok {
		t.Fatalf("expected DisputeOpened, got %T", event)
	}
	if dispute.ChargeID != "ch_1" || dispute.Customer() != "" {
		t.Fatalf("expected charge id only, got %+v", dispute)
	}
}

func TestParseDisputeWithExpandedCharge(t *testing.T) {
	adapter := newTestAdapter(t, 0)

	event := mustParse(t, adapter, map[string]any{
		"id":   "evt_dp2",
		"type": "charge.dispute.created",
		"data": map[string]any{
			"object": map[string]any{
				"id":     "dp_2",
				"charge": map[string]any{"id": "ch_2", "customer": "cus_2", "invoice": "in_2"},
			},
		},
	})

	dispute := event.(*paymentdomain.DisputeOpened)
	if dispute.ChargeID != "ch_2" || dispute.Customer() != "cus_2" || dispute.InvoiceID != "in_2" {
		t.Fatalf("unexpected dispute %+v", dispute)
	}
}

func TestParseChargeRefunded(t *testing.T) {
	adapter := newTestAdapter(t, 0)

	event := mustParse(t, adapter, map[string]any{
		"id":   "evt_rf",
		"type": "charge.refunded",
		"data": map[string]any{
			"object": map[string]any{
				"id":              "ch_1",
				"customer":        "cus_1",
				"invoice":         "in_1",
				"amount":          5000,
				"amount_refunded": 5000,
				"currency":        "usd",
			},
		},
	})

	refund := event.(*paymentdomain.ChargeRefunded)
	if refund.InvoiceID != "in_1" || refund.AmountRefunded != 5000 {
		t.Fatalf("unexpected refund %+v", refund)
	}
}

func TestParseUnknownTypeIsRecorded(t *testing.T) {
	adapter := newTestAdapter(t, 0)

	event := mustParse(t, adapter, map[string]any{
		"id":   "evt_x",
		"type": "customer.updated",
		"data": map[string]any{"object": map[string]any{}},
	})
	if event.Kind() != paymentdomain.EventKindUnrecognized || event.EventID() != "evt_x" {
		t.Fatalf("expected unrecognized evt_x, got %s %s", event.Kind(), event.EventID())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	adapter := newTestAdapter(t, 0)

	if _, err := adapter.Parse(context.Background(), []byte(`{not json`)); err != paymentdomain.ErrInvalidPayload {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if _, err := adapter.Parse(context.Background(), []byte(`{"type":"invoice.paid"}`)); err != paymentdomain.ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	missingCustomer := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)
	if _, err := adapter.Parse(context.Background(), missingCustomer); err != paymentdomain.ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
