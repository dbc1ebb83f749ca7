package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type CommissionModel string

const (
	CommissionModelBounty    CommissionModel = "bounty"
	CommissionModelRecurring CommissionModel = "recurring"
)

func (m CommissionModel) Valid() bool {
	return m == CommissionModelBounty || m == CommissionModelRecurring
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Broker is a partner who refers customers. The commission model is fixed
// once the broker is approved.
type Broker struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	Name              string          `json:"name"`
	Email             string          `json:"email"`
	ReferralCode      string          `json:"referral_code"`
	CommissionModel   CommissionModel `json:"commission_model"`
	Status            Status          `json:"status"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	PayoutDestination *string         `json:"payout_destination,omitempty"`
	PaidTotal         int64           `json:"paid_total"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Broker) TableName() string { return "brokers" }

func (b *Broker) IsApproved() bool {
	return b != nil && b.Status == StatusApproved && b.ApprovedAt != nil
}

func (b *Broker) HasPayoutDestination() bool {
	return b != nil && b.PayoutDestination != nil && *b.PayoutDestination != ""
}

type LinkVisit struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	BrokerID  snowflake.ID `json:"broker_id"`
	VisitorIP string       `json:"visitor_ip"`
	UserAgent *string      `json:"user_agent,omitempty"`
	VisitedAt time.Time    `json:"visited_at"`
}

func (LinkVisit) TableName() string { return "broker_link_visits" }
