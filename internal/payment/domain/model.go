package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the stored receipt of a platform event. The unique
// (provider, event_id) key makes redelivery a no-op.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider    string         `json:"provider"`
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	CustomerID  *string        `json:"customer_id,omitempty"`
	Payload     datatypes.JSON `json:"payload"`
	Outcome     Outcome        `json:"outcome"`
	ReceivedAt  time.Time      `json:"received_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// Outcome summarizes what processing an event did.
type Outcome string

const (
	OutcomePending          Outcome = "pending"
	OutcomeApplied          Outcome = "applied"
	OutcomeNoop             Outcome = "noop"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

type EventKind string

const (
	EventKindSubscriptionCreated  EventKind = "subscription_created"
	EventKindInvoicePaid          EventKind = "invoice_paid"
	EventKindSubscriptionCanceled EventKind = "subscription_canceled"
	EventKindInvoicePaymentFailed EventKind = "invoice_payment_failed"
	EventKindDisputeOpened        EventKind = "dispute_opened"
	EventKindChargeRefunded       EventKind = "charge_refunded"
	EventKindUnrecognized         EventKind = "unrecognized"
)

// Event is one of the typed platform events below.
type Event interface {
	EventID() string
	Kind() EventKind
	Customer() string
	OccurredAt() time.Time
	Header() *Envelope
}

// Envelope carries the fields every platform event has.
type Envelope struct {
	ID         string
	Provider   string
	RawType    string
	CustomerID string
	Occurred   time.Time
	Payload    []byte
}

func (e *Envelope) EventID() string       { return e.ID }
func (e *Envelope) Customer() string      { return e.CustomerID }
func (e *Envelope) OccurredAt() time.Time { return e.Occurred }
func (e *Envelope) Header() *Envelope     { return e }

type RiskLevel string

const (
	RiskLevelUnknown  RiskLevel = ""
	RiskLevelNormal   RiskLevel = "normal"
	RiskLevelElevated RiskLevel = "elevated"
	RiskLevelHighest  RiskLevel = "highest"
)

func NormalizeRiskLevel(raw string) RiskLevel {
	switch RiskLevel(raw) {
	case RiskLevelNormal, RiskLevelElevated, RiskLevelHighest:
		return RiskLevel(raw)
	default:
		return RiskLevelUnknown
	}
}

type SubscriptionCreated struct {
	Envelope
	SubscriptionID     string
	ReferralCode       string
	Email              string
	PaymentFingerprint string
	SignupIP           string
	LinkVisitedAt      *time.Time
	PlatformRisk       RiskLevel
}

func (*SubscriptionCreated) Kind() EventKind { return EventKindSubscriptionCreated }

type InvoicePaid struct {
	Envelope
	InvoiceID      string
	SubscriptionID string
	BillingReason  string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	AmountPaid     int64
	Currency       string
}

func (*InvoicePaid) Kind() EventKind { return EventKindInvoicePaid }

// BillingPeriod is the dedup key for recurring commissions.
func (e *InvoicePaid) BillingPeriod() string {
	if e.PeriodStart.IsZero() {
		return ""
	}
	return e.PeriodStart.UTC().Format("2006-01-02")
}

type SubscriptionCanceled struct {
	Envelope
	SubscriptionID string
}

func (*SubscriptionCanceled) Kind() EventKind { return EventKindSubscriptionCanceled }

type InvoicePaymentFailed struct {
	Envelope
	InvoiceID      string
	SubscriptionID string
	PeriodStart    time.Time
}

func (*InvoicePaymentFailed) Kind() EventKind { return EventKindInvoicePaymentFailed }

type DisputeOpened struct {
	Envelope
	DisputeID string
	ChargeID  string
	InvoiceID string
	Amount    int64
	Currency  string
	Reason    string
}

func (*DisputeOpened) Kind() EventKind { return EventKindDisputeOpened }

type ChargeRefunded struct {
	Envelope
	ChargeID       string
	InvoiceID      string
	Amount         int64
	AmountRefunded int64
	Currency       string
}

func (*ChargeRefunded) Kind() EventKind { return EventKindChargeRefunded }

// Unrecognized is any event type the ledger does not act on. It is still
// recorded so redelivery stays idempotent.
type Unrecognized struct {
	Envelope
}

func (*Unrecognized) Kind() EventKind { return EventKindUnrecognized }

var (
	_ Event = (*SubscriptionCreated)(nil)
	_ Event = (*InvoicePaid)(nil)
	_ Event = (*SubscriptionCanceled)(nil)
	_ Event = (*InvoicePaymentFailed)(nil)
	_ Event = (*DisputeOpened)(nil)
	_ Event = (*ChargeRefunded)(nil)
	_ Event = (*Unrecognized)(nil)
)
