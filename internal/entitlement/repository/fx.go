package repository

import (
	"context"
	"fmt"

	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Provide selects the entitlement store from ENTITLEMENTS_BACKEND.
func Provide(cfg config.Config, conn *gorm.DB, log *zap.Logger) (domain.Repository, error) {
	switch cfg.EntitlementsBackend {
	case config.BackendDynamoDB:
		client, err := NewDynamoClient(context.Background(), cfg.DynamoDB)
		if err != nil {
			return nil, fmt.Errorf("dynamodb client: %w", err)
		}
		log.Info("entitlement store selected",
			zap.String("backend", config.BackendDynamoDB),
			zap.String("table", cfg.EntitlementsTable),
		)
		return NewDynamoRepository(client, cfg.EntitlementsTable), nil
	default:
		log.Info("entitlement store selected", zap.String("backend", config.BackendSQL))
		return NewGormRepository(conn), nil
	}
}
