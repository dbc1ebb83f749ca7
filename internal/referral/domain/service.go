package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAttribution(ctx context.Context, db *gorm.DB, a *Attribution) (bool, error)
	FindAttributionByCustomer(ctx context.Context, db *gorm.DB, customerID string) (*Attribution, error)

	// InsertReferral returns false when a bounty for the same broker and
	// customer, or a recurring commission for the same period, exists.
	InsertReferral(ctx context.Context, db *gorm.DB, r *Referral) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Referral, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID string) ([]*Referral, error)
	ListByBroker(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Referral, error)
	ListDueHolds(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)

	// Save writes the mutable columns of r and bumps its version, but only
	// while the stored row still has expectStatus and expectVersion.
	Save(ctx context.Context, db *gorm.DB, r *Referral, expectStatus Status, expectVersion int64) (bool, error)
	// PromoteHold moves an expired hold to ready_to_pay.
	PromoteHold(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
}

type ListFilter struct {
	BrokerID snowflake.ID
	Status   Status
	AfterID  snowflake.ID
	Limit    int
}

type ListRequest struct {
	Status string
	pagination.Pagination
}

type ListResponse struct {
	Referrals []*Referral         `json:"referrals"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type MarkPaidRequest struct {
	TransferReference string `json:"transfer_reference"`
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Referral, error)
	ListByBroker(ctx context.Context, brokerID snowflake.ID, req ListRequest) (ListResponse, error)

	Approve(ctx context.Context, id snowflake.ID) (*Referral, error)
	Reject(ctx context.Context, id snowflake.ID, req RejectRequest) (*Referral, error)
	Release(ctx context.Context, id snowflake.ID) (*Referral, error)
	MarkPaid(ctx context.Context, id snowflake.ID, req MarkPaidRequest) (*Referral, error)

	DueHolds(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	// PromoteHold releases one expired hold. It reports false when the
	// referral was no longer on hold or not yet due.
	PromoteHold(ctx context.Context, id snowflake.ID) (bool, error)
}

var (
	ErrReferralNotFound         = errors.New("referral_not_found")
	ErrInvalidTransition        = errors.New("invalid_transition")
	ErrConcurrentModification   = errors.New("concurrent_modification")
	ErrClawbackWindowClosed     = errors.New("clawback_window_closed")
	ErrBrokerNotPayable         = errors.New("broker_not_payable")
	ErrPayoutDestinationMissing = errors.New("payout_destination_missing")
	ErrInvalidTransferReference = errors.New("invalid_transfer_reference")
	ErrPayoutInProgress         = errors.New("payout_in_progress")
	ErrInvalidStatusFilter      = errors.New("invalid_status_filter")
)
