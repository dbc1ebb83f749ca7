package repository

import (
	"context"

	"github.com/smallbiznis/referralledger/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, provider, eventID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM webhook_events WHERE provider = ? AND event_id = ?`,
		provider,
		eventID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, event_id, event_type, customer_id, payload, outcome, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		record.ID,
		record.Provider,
		record.EventID,
		record.EventType,
		record.CustomerID,
		record.Payload,
		record.Outcome,
		record.ReceivedAt,
		record.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, record *domain.EventRecord) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events SET outcome = ?, processed_at = ? WHERE id = ?`,
		record.Outcome,
		record.ProcessedAt,
		record.ID,
	).Error
}

func (r *repo) ListDeferred(ctx context.Context, db *gorm.DB, provider, customerID, excludeEventID string) ([]*domain.EventRecord, error) {
	var records []*domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, event_id, event_type, customer_id, payload, outcome, received_at, processed_at
		 FROM webhook_events
		 WHERE provider = ? AND customer_id = ? AND outcome = ? AND event_id <> ?
		 ORDER BY received_at ASC, id ASC`,
		provider,
		customerID,
		domain.OutcomeIgnored,
		excludeEventID,
	).Scan(&records).Error
	return records, err
}
