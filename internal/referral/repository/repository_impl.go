package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/referral/domain"
	"gorm.io/gorm"
)

const referralColumns = `id, broker_id, attribution_id, customer_id, payout_type, amount, currency,
	billing_period, source_invoice_id, status, prior_status, past_due_invoice_id, risk_score,
	risk_assessment, hold_until, paid_at, clawback_until, transfer_reference, transfer_id,
	last_event_id, version, created_at, updated_at`

const attributionColumns = `id, broker_id, customer_id, subscription_id, email, payment_fingerprint,
	signup_ip, signup_at, risk_score, risk_decision, risk_assessment, source_event_id, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertAttribution(ctx context.Context, db *gorm.DB, a *domain.Attribution) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO referred_customers (`+attributionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (customer_id) DO NOTHING`,
		a.ID,
		a.BrokerID,
		a.CustomerID,
		a.SubscriptionID,
		a.Email,
		a.PaymentFingerprint,
		a.SignupIP,
		a.SignupAt,
		a.RiskScore,
		a.RiskDecision,
		a.RiskAssessment,
		a.SourceEventID,
		a.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindAttributionByCustomer(ctx context.Context, db *gorm.DB, customerID string) (*domain.Attribution, error) {
	var a domain.Attribution
	err := db.WithContext(ctx).Raw(
		`SELECT `+attributionColumns+` FROM referred_customers WHERE customer_id = ?`,
		customerID,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) InsertReferral(ctx context.Context, db *gorm.DB, ref *domain.Referral) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO referrals (`+referralColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		ref.ID,
		ref.BrokerID,
		ref.AttributionID,
		ref.CustomerID,
		ref.PayoutType,
		ref.Amount,
		ref.Currency,
		ref.BillingPeriod,
		ref.SourceInvoiceID,
		ref.Status,
		ref.PriorStatus,
		ref.PastDueInvoiceID,
		ref.RiskScore,
		ref.RiskAssessment,
		ref.HoldUntil,
		ref.PaidAt,
		ref.ClawbackUntil,
		ref.TransferReference,
		ref.TransferID,
		ref.LastEventID,
		ref.Version,
		ref.CreatedAt,
		ref.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Referral, error) {
	var ref domain.Referral
	err := db.WithContext(ctx).Raw(
		`SELECT `+referralColumns+` FROM referrals WHERE id = ?`,
		id,
	).Scan(&ref).Error
	if err != nil {
		return nil, err
	}
	if ref.ID == 0 {
		return nil, nil
	}
	return &ref, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID string) ([]*domain.Referral, error) {
	var items []*domain.Referral
	err := db.WithContext(ctx).Raw(
		`SELECT `+referralColumns+` FROM referrals WHERE customer_id = ? ORDER BY id ASC`,
		customerID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) ListByBroker(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE broker_id = ? AND id > ?`
	args := []any{filter.BrokerID, filter.AfterID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, filter.Limit)

	var items []*domain.Referral
	err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error
	return items, err
}

func (r *repo) ListDueHolds(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM referrals
		 WHERE status = ? AND hold_until IS NOT NULL AND hold_until <= ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusOnHold,
		now,
		afterID,
		limit,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, ref *domain.Referral, expectStatus domain.Status, expectVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, prior_status = ?, past_due_invoice_id = ?, hold_until = ?, paid_at = ?,
		     clawback_until = ?, transfer_reference = ?, transfer_id = ?, last_event_id = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ?`,
		ref.Status,
		ref.PriorStatus,
		ref.PastDueInvoiceID,
		ref.HoldUntil,
		ref.PaidAt,
		ref.ClawbackUntil,
		ref.TransferReference,
		ref.TransferID,
		ref.LastEventID,
		ref.UpdatedAt,
		ref.ID,
		expectStatus,
		expectVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	ref.Version = expectVersion + 1
	return true, nil
}

func (r *repo) PromoteHold(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND hold_until IS NOT NULL AND hold_until <= ?`,
		domain.StatusReadyToPay,
		now,
		id,
		domain.StatusOnHold,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
