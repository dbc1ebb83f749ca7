package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/audit"
	"github.com/smallbiznis/referralledger/internal/broker"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/metricspush"
	"github.com/smallbiznis/referralledger/internal/observability"
	"github.com/smallbiznis/referralledger/internal/payment"
	"github.com/smallbiznis/referralledger/internal/ratelimit"
	"github.com/smallbiznis/referralledger/internal/referral"
	"github.com/smallbiznis/referralledger/internal/risk"
	"github.com/smallbiznis/referralledger/internal/scheduler"
	"github.com/smallbiznis/referralledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Domain services required by the hold sweep
		audit.Module,
		broker.Module,
		risk.Module,
		payment.Module,
		referral.Module,

		// No server module!
		metricspush.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
