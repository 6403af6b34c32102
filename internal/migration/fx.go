package migration

import (
	entitlementdomain "github.com/predixa/entitlements/internal/entitlement/domain"
	webhookdomain "github.com/predixa/entitlements/internal/webhook/domain"
	"github.com/predixa/entitlements/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		return Run(conn, cfg, log)
	}),
)

// Run migrates postgres from the embedded SQL files. Other dialects, used in
// development and tests, are auto-migrated from the models.
func Run(conn *gorm.DB, dbCfg db.Config, log *zap.Logger) error {
	if dbCfg.IsPostgres() {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
		log.Info("database migrations applied", zap.String("dialect", dbCfg.Type))
		return nil
	}

	if err := conn.AutoMigrate(&entitlementdomain.Entitlement{}, &webhookdomain.EventRecord{}); err != nil {
		return err
	}
	log.Info("database auto-migrated", zap.String("dialect", dbCfg.Type))
	return nil
}
