package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) PayableBalance(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM referrals
		 WHERE broker_id = ?
		   AND (status = 'ready_to_pay'
		        OR (status = 'on_hold' AND hold_until IS NOT NULL AND hold_until <= ?))`,
		brokerID,
		now,
	).Scan(&total).Error
	return total, err
}

func (r *repo) StatusTotals(ctx context.Context, db *gorm.DB, brokerID snowflake.ID) ([]domain.StatusTotal, error) {
	var rows []domain.StatusTotal
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count, COALESCE(SUM(amount), 0) AS amount
		 FROM referrals
		 WHERE broker_id = ?
		 GROUP BY status
		 ORDER BY status ASC`,
		brokerID,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) StatementLines(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, limit int) ([]domain.StatementLine, error) {
	var rows []domain.StatementLine
	err := db.WithContext(ctx).Raw(
		`SELECT id AS referral_id, payout_type, status, amount, currency,
		        COALESCE(billing_period, '') AS billing_period, created_at, paid_at
		 FROM referrals
		 WHERE broker_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		brokerID,
		limit,
	).Scan(&rows).Error
	return rows, err
}
