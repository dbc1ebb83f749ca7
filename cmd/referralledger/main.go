package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referralledger/internal/audit"
	"github.com/smallbiznis/referralledger/internal/authorization"
	"github.com/smallbiznis/referralledger/internal/broker"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/ledger"
	"github.com/smallbiznis/referralledger/internal/metricspush"
	"github.com/smallbiznis/referralledger/internal/migration"
	"github.com/smallbiznis/referralledger/internal/observability"
	"github.com/smallbiznis/referralledger/internal/payment"
	"github.com/smallbiznis/referralledger/internal/ratelimit"
	"github.com/smallbiznis/referralledger/internal/referral"
	"github.com/smallbiznis/referralledger/internal/risk"
	"github.com/smallbiznis/referralledger/internal/scheduler"
	"github.com/smallbiznis/referralledger/internal/server"
	"github.com/smallbiznis/referralledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		// Functional Domains
		audit.Module,
		authorization.Module,
		broker.Module,
		risk.Module,
		payment.Module,
		referral.Module,
		ledger.Module,

		// Webhook + admin API and the hold sweep in one process
		server.Module,
		metricspush.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
