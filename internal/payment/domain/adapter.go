package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

type AdapterConfig struct {
	WebhookSecret string
	// Tolerance bounds the age of a signed timestamp. Zero disables the check.
	Tolerance time.Duration
	Now       func() time.Time
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// PaymentAdapter verifies and decodes one provider's webhook deliveries.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (Event, error)
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("payment_provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_payment_config")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
)
