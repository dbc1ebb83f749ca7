package migration

import (
	"context"
	"fmt"

	"github.com/smallbiznis/referralledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		switch cfg.DBType {
		case "postgres":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		case "sqlite":
			return ApplySchema(context.Background(), conn)
		default:
			log.Warn("schema migrations are not managed for this database type", zap.String("type", cfg.DBType))
			return fmt.Errorf("unsupported database type for migrations: %s", cfg.DBType)
		}
	}),
)
