package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CustomersWithFingerprint(ctx context.Context, db *gorm.DB, fingerprint, excludeCustomerID string) ([]string, error)
	BrokerEmails(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, excludeCustomerID string, limit int) ([]string, error)
	CustomersWithSignupIP(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, ip, excludeCustomerID string) ([]string, error)
	CountAttributions(ctx context.Context, db *gorm.DB, brokerID snowflake.ID) (int64, error)
	LatestLinkVisit(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, visitorIP string, before time.Time) (*time.Time, error)
}

// Rule is one independent risk signal. New signals are added as rules;
// the decision threshold does not change.
type Rule interface {
	Evaluate(c Candidate, th Thresholds) (Signal, bool)
}

type Service interface {
	// Assess gathers history through db (usually the ingest transaction)
	// and scores the candidate.
	Assess(ctx context.Context, db *gorm.DB, input Input) (*Assessment, error)
}

var (
	ErrInvalidCandidate = errors.New("invalid_risk_candidate")
)
