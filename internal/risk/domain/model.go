package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionFlagged  Decision = "flagged_for_review"
)

type SignalCode string

const (
	SignalPaymentFingerprint SignalCode = "payment_fingerprint_match"
	SignalEmailSimilarity    SignalCode = "email_similarity"
	SignalLinkVelocity       SignalCode = "link_to_signup_velocity"
	SignalSharedIP           SignalCode = "shared_signup_ip"
	SignalPlatformRisk       SignalCode = "platform_risk"
	SignalFirstReferral      SignalCode = "first_referral"
)

// Signal is one triggered heuristic. Points are never negative.
type Signal struct {
	Code         SignalCode `json:"code"`
	Points       int        `json:"points"`
	Rationale    string     `json:"rationale"`
	ForcesReview bool       `json:"forces_review,omitempty"`
}

// Assessment is the retained result of scoring a candidate. It is computed
// once when the customer is attributed and never recomputed.
type Assessment struct {
	Signals   []Signal  `json:"signals"`
	Total     int       `json:"total"`
	Threshold int       `json:"threshold"`
	Decision  Decision  `json:"decision"`
	ScoredAt  time.Time `json:"scored_at"`
}

func (a *Assessment) Flagged() bool {
	return a != nil && a.Decision == DecisionFlagged
}

// Input is what the webhook tells us about a new referred customer.
type Input struct {
	BrokerID           snowflake.ID
	CustomerID         string
	Email              string
	PaymentFingerprint string
	SignupIP           string
	SignupAt           time.Time
	LinkVisitedAt      *time.Time
	// PlatformRisk is the payment platform's own risk level, if any.
	PlatformRisk string
}

// Candidate is an Input plus the history the signals compare against.
type Candidate struct {
	Input

	FingerprintMatches []string
	BrokerEmails       []string
	SharedIPCustomers  []string
	PriorReferrals     int64
}

// Thresholds parameterize the signals. Values come from the commission policy.
type Thresholds struct {
	FlagScore     int
	EmailDistance int
	LinkFast      time.Duration
	LinkSlow      time.Duration
}
