package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/broker/domain"
	"gorm.io/gorm"
)

const brokerColumns = `id, name, email, referral_code, commission_model, status, approved_at,
	payout_destination, paid_total, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, broker *domain.Broker) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO brokers (`+brokerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		broker.ID,
		broker.Name,
		broker.Email,
		broker.ReferralCode,
		broker.CommissionModel,
		broker.Status,
		broker.ApprovedAt,
		broker.PayoutDestination,
		broker.PaidTotal,
		broker.CreatedAt,
		broker.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Broker, error) {
	var broker domain.Broker
	err := db.WithContext(ctx).Raw(
		`SELECT `+brokerColumns+` FROM brokers WHERE id = ?`,
		id,
	).Scan(&broker).Error
	if err != nil {
		return nil, err
	}
	if broker.ID == 0 {
		return nil, nil
	}
	return &broker, nil
}

func (r *repo) FindByReferralCode(ctx context.Context, db *gorm.DB, code string) (*domain.Broker, error) {
	var broker domain.Broker
	err := db.WithContext(ctx).Raw(
		`SELECT `+brokerColumns+` FROM brokers WHERE referral_code = ?`,
		code,
	).Scan(&broker).Error
	if err != nil {
		return nil, err
	}
	if broker.ID == 0 {
		return nil, nil
	}
	return &broker, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, to domain.Status, model domain.CommissionModel, approvedAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE brokers
		 SET status = ?, commission_model = ?, approved_at = COALESCE(approved_at, ?), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		model,
		approvedAt,
		now,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdatePayoutDestination(ctx context.Context, db *gorm.DB, id snowflake.ID, destination string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE brokers SET payout_destination = ?, updated_at = ? WHERE id = ?`,
		destination,
		now,
		id,
	).Error
}

func (r *repo) AdjustPaidTotal(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE brokers SET paid_total = paid_total + ?, updated_at = ? WHERE id = ?`,
		delta,
		now,
		id,
	).Error
}

func (r *repo) InsertLinkVisit(ctx context.Context, db *gorm.DB, visit *domain.LinkVisit) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO broker_link_visits (id, broker_id, visitor_ip, user_agent, visited_at)
		 VALUES (?, ?, ?, ?, ?)`,
		visit.ID,
		visit.BrokerID,
		visit.VisitorIP,
		visit.UserAgent,
		visit.VisitedAt,
	).Error
}
