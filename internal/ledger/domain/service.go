package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository only reads.
type Repository interface {
	PayableBalance(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, now time.Time) (int64, error)
	StatusTotals(ctx context.Context, db *gorm.DB, brokerID snowflake.ID) ([]StatusTotal, error)
	StatementLines(ctx context.Context, db *gorm.DB, brokerID snowflake.ID, limit int) ([]StatementLine, error)
}

type Service interface {
	// PayableBalance counts ready_to_pay referrals plus holds that have
	// expired but not been swept yet.
	PayableBalance(ctx context.Context, brokerID snowflake.ID) (int64, error)
	PaymentReadiness(ctx context.Context, brokerID snowflake.ID) (PaymentReadiness, error)
	Summary(ctx context.Context, brokerID snowflake.ID) (*Summary, error)
	Statement(ctx context.Context, brokerID snowflake.ID) (*Statement, error)
}
