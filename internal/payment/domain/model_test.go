package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventsExposeHeader(t *testing.T) {
	env := Envelope{ID: "evt_1", RawType: "raw", CustomerID: "cus_1", Occurred: time.Unix(10, 0)}
	events := map[EventKind]Event{
		EventKindSubscriptionCreated:  &SubscriptionCreated{Envelope: env},
		EventKindInvoicePaid:          &InvoicePaid{Envelope: env},
		EventKindSubscriptionCanceled: &SubscriptionCanceled{Envelope: env},
		EventKindInvoicePaymentFailed: &InvoicePaymentFailed{Envelope: env},
		EventKindDisputeOpened:        &DisputeOpened{Envelope: env},
		EventKindChargeRefunded:       &ChargeRefunded{Envelope: env},
		EventKindUnrecognized:         &Unrecognized{Envelope: env},
	}

	for kind, event := range events {
		assert.Equal(t, kind, event.Kind())
		assert.Equal(t, "evt_1", event.EventID())
		assert.Equal(t, "cus_1", event.Customer())
		assert.Equal(t, time.Unix(10, 0), event.OccurredAt())

		event.Header().CustomerID = "cus_2"
		assert.Equal(t, "cus_2", event.Customer(), kind)
	}
}

func TestBillingPeriod(t *testing.T) {
	assert.Equal(t, "", (&InvoicePaid{}).BillingPeriod())
	start := time.Date(2026, 5, 1, 23, 0, 0, 0, time.FixedZone("x", -3*3600))
	assert.Equal(t, "2026-05-02", (&InvoicePaid{PeriodStart: start}).BillingPeriod())
}
