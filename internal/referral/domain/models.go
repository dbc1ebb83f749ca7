package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusOnHold     Status = "on_hold"
	StatusReadyToPay Status = "ready_to_pay"
	StatusPaid       Status = "paid"
	StatusFlagged    Status = "flagged_for_review"
	StatusCanceled   Status = "canceled"
	StatusPastDue    Status = "past_due"
	StatusRefunded   Status = "refunded"
	StatusChargeback Status = "chargeback"
	StatusClawedBack Status = "clawed_back"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnHold, StatusReadyToPay, StatusPaid, StatusFlagged, StatusCanceled,
		StatusPastDue, StatusRefunded, StatusChargeback, StatusClawedBack:
		return true
	default:
		return false
	}
}

type PayoutType string

const (
	PayoutTypeBounty    PayoutType = "bounty"
	PayoutTypeRecurring PayoutType = "recurring"
)

// Referral is one owed or paid commission.
type Referral struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	BrokerID          snowflake.ID   `json:"broker_id"`
	AttributionID     snowflake.ID   `json:"attribution_id"`
	CustomerID        string         `json:"customer_id"`
	PayoutType        PayoutType     `json:"payout_type"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	BillingPeriod     string         `json:"billing_period,omitempty"`
	SourceInvoiceID   *string        `json:"source_invoice_id,omitempty"`
	Status            Status         `json:"status"`
	PriorStatus       *Status        `json:"prior_status,omitempty"`
	PastDueInvoiceID  *string        `json:"past_due_invoice_id,omitempty"`
	RiskScore         int            `json:"risk_score"`
	RiskAssessment    datatypes.JSON `json:"risk_assessment,omitempty"`
	HoldUntil         *time.Time     `json:"hold_until,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	ClawbackUntil     *time.Time     `json:"clawback_until,omitempty"`
	TransferReference *string        `json:"transfer_reference,omitempty"`
	TransferID        *string        `json:"transfer_id,omitempty"`
	LastEventID       *string        `json:"last_event_id,omitempty"`
	Version           int64          `json:"version"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (Referral) TableName() string { return "referrals" }

// Attribution links a platform customer to the broker who referred them,
// with the risk assessment computed at signup.
type Attribution struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	BrokerID           snowflake.ID   `json:"broker_id"`
	CustomerID         string         `json:"customer_id"`
	SubscriptionID     *string        `json:"subscription_id,omitempty"`
	Email              string         `json:"email"`
	PaymentFingerprint string         `json:"payment_fingerprint"`
	SignupIP           string         `json:"signup_ip"`
	SignupAt           time.Time      `json:"signup_at"`
	RiskScore          int            `json:"risk_score"`
	RiskDecision       string         `json:"risk_decision"`
	RiskAssessment     datatypes.JSON `json:"risk_assessment"`
	SourceEventID      string         `json:"source_event_id"`
	CreatedAt          time.Time      `json:"created_at"`
}

func (Attribution) TableName() string { return "referred_customers" }
