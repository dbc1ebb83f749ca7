package domain

import (
	"context"
	"net/http"

	"gorm.io/gorm"
)

type Repository interface {
	Exists(ctx context.Context, db *gorm.DB, provider, eventID string) (bool, error)
	// Insert returns false when the event was already recorded.
	Insert(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, record *EventRecord) error
	// ListDeferred returns the customer's events that were recorded as
	// ignored, oldest first, leaving out excludeEventID.
	ListDeferred(ctx context.Context, db *gorm.DB, provider, customerID, excludeEventID string) ([]*EventRecord, error)
}

// EventHandler applies a verified event inside the transaction that records it.
type EventHandler interface {
	Apply(ctx context.Context, tx *gorm.DB, event Event) (Outcome, error)
}

type IngestResult struct {
	EventID string
	Kind    EventKind
	Outcome Outcome
}

type WebhookService interface {
	Ingest(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestResult, error)
}
