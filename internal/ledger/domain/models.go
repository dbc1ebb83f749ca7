package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Readiness string

const (
	ReadinessReady    Readiness = "ready"
	ReadinessNotReady Readiness = "not_ready"
)

const (
	ReasonBrokerNotApproved   = "broker_not_approved"
	ReasonActivationPending   = "activation_period_pending"
	ReasonNoPayableBalance    = "no_payable_balance"
	ReasonNoPayoutDestination = "payout_destination_missing"
)

type PaymentReadiness struct {
	Readiness Readiness `json:"readiness"`
	Reasons   []string  `json:"reasons,omitempty"`
	// EligibleAt is when the broker's activation period ends.
	EligibleAt *time.Time `json:"eligible_at,omitempty"`
}

type StatusTotal struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Amount int64  `json:"amount"`
}

// Summary is a point-in-time view of one broker's commissions.
type Summary struct {
	BrokerID        snowflake.ID     `json:"broker_id"`
	BrokerStatus    string           `json:"broker_status"`
	CommissionModel string           `json:"commission_model"`
	PayableBalance  int64            `json:"payable_balance"`
	PaidTotal       int64            `json:"paid_total"`
	Readiness       PaymentReadiness `json:"payment_readiness"`
	ByStatus        []StatusTotal    `json:"by_status"`
	AsOf            time.Time        `json:"as_of"`
}

// StatementLine is one referral as printed on a broker statement.
type StatementLine struct {
	ReferralID    snowflake.ID `json:"referral_id"`
	PayoutType    string       `json:"payout_type"`
	Status        string       `json:"status"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	BillingPeriod string       `json:"billing_period,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
}

// Statement is the printable commission history of one broker, newest
// referrals first.
type Statement struct {
	BrokerName   string          `json:"broker_name"`
	ReferralCode string          `json:"referral_code"`
	Currency     string          `json:"currency"`
	Summary      Summary         `json:"summary"`
	Lines        []StatementLine `json:"lines"`
	Truncated    bool            `json:"truncated"`
}
