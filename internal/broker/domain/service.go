package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	CommissionModel string `json:"commission_model"`
}

type ApproveRequest struct {
	// CommissionModel optionally overrides the model requested at registration.
	CommissionModel string `json:"commission_model"`
}

type LinkVisitRequest struct {
	ReferralCode string
	VisitorIP    string
	UserAgent    string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, broker *Broker) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Broker, error)
	FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*Broker, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, to Status, model CommissionModel, approvedAt *time.Time, now time.Time) (bool, error)
	UpdatePayoutDestination(ctx context.Context, db *gorm.DB, id snowflake.ID, destination string, now time.Time) error
	AdjustPaidTotal(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64, now time.Time) error
	InsertLinkVisit(ctx context.Context, db *gorm.DB, visit *LinkVisit) error
}

// VisitLimiter throttles referral link visits per visitor.
type VisitLimiter interface {
	AllowVisit(ctx context.Context, code, visitorIP string) (bool, error)
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Broker, error)
	Get(ctx context.Context, id snowflake.ID) (*Broker, error)
	Approve(ctx context.Context, id snowflake.ID, req ApproveRequest) (*Broker, error)
	Deny(ctx context.Context, id snowflake.ID) (*Broker, error)
	SetPayoutDestination(ctx context.Context, id snowflake.ID, destination string) (*Broker, error)
	RecordLinkVisit(ctx context.Context, req LinkVisitRequest) (*Broker, error)
}

var (
	ErrBrokerNotFound               = errors.New("broker_not_found")
	ErrInvalidName                  = errors.New("invalid_name")
	ErrInvalidEmail                 = errors.New("invalid_email")
	ErrInvalidCommissionModel       = errors.New("invalid_commission_model")
	ErrModelImmutable               = errors.New("commission_model_immutable")
	ErrInvalidBrokerStatus          = errors.New("invalid_broker_status")
	ErrInvalidPayoutDestination     = errors.New("invalid_payout_destination")
	ErrReferralCodeUnavailable      = errors.New("referral_code_unavailable")
	ErrLinkVisitRateLimited         = errors.New("link_visit_rate_limited")
	ErrBrokerConcurrentModification = errors.New("broker_concurrent_modification")
)
