package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/risk/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CustomersWithFingerprint(ctx context.Context, db *gorm.DB, fingerprint, excludeCustomerID string) ([]string, error) {
	var ids []string
	if fingerprint == "" {
		return ids, nil
	}
	err := db.WithContext(ctx).Raw(
		`SELECT customer_id FROM referred_customers
		 WHERE payment_fingerprint = ? AND customer_id <> ?
		 ORDER BY created_at ASC`,
		fingerprint,
		excludeCustomerID,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) BrokerEmails(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, excludeCustomerID string, limit int) ([]string, error) {
	var emails []string
	err := db.WithContext(ctx).Raw(
		`SELECT email FROM referred_customers
		 WHERE broker_id = ? AND customer_id <> ? AND email <> ''
		 ORDER BY created_at DESC
		 LIMIT ?`,
		brokerID,
		excludeCustomerID,
		limit,
	).Scan(&emails).Error
	return emails, err
}

func (r *repo) CustomersWithSignupIP(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, ip, excludeCustomerID string) ([]string, error) {
	var ids []string
	if ip == "" {
		return ids, nil
	}
	err := db.WithContext(ctx).Raw(
		`SELECT customer_id FROM referred_customers
		 WHERE broker_id = ? AND signup_ip = ? AND customer_id <> ?`,
		brokerID,
		ip,
		excludeCustomerID,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) CountAttributions(ctx context.Context, db *gorm.DB, brokerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM referred_customers WHERE broker_id = ?`,
		brokerID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) LatestLinkVisit(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, visitorIP string, before time.Time) (*time.Time, error) {
	if visitorIP == "" {
		return nil, nil
	}
	var row struct {
		VisitedAt time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT visited_at FROM broker_link_visits
		 WHERE broker_id = ? AND visitor_ip = ? AND visited_at <= ?
		 ORDER BY visited_at DESC
		 LIMIT 1`,
		brokerID,
		visitorIP,
		before,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.VisitedAt.IsZero() {
		return nil, nil
	}
	visited := row.VisitedAt.UTC()
	return &visited, nil
}
