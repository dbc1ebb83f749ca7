package domain

import (
	"context"
	"errors"
	"time"
)

type CustomerProfile struct {
	CustomerID         string
	Email              string
	PaymentFingerprint string
	Created            time.Time
}

type ChargeDetails struct {
	ChargeID   string
	CustomerID string
	InvoiceID  string
}

type TransferRequest struct {
	// Reference is sent as the idempotency key, so retrying a payout never
	// moves money twice.
	Reference   string
	Destination string
	Amount      int64
	Currency    string
	Metadata    map[string]string
}

type TransferResult struct {
	TransferID string
}

//go:generate mockgen -source=platform.go -destination=../mocks/mock_platform.go -package=mocks

// PlatformClient is the outbound side of the payment platform.
type PlatformClient interface {
	RiskLevel(ctx context.Context, customerID string) (RiskLevel, error)
	CustomerProfile(ctx context.Context, customerID string) (CustomerProfile, error)
	ChargeDetails(ctx context.Context, chargeID string) (ChargeDetails, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

var (
	ErrPlatformNotConfigured = errors.New("payment_platform_not_configured")
	ErrTransferFailed        = errors.New("transfer_failed")
)
