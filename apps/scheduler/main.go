package main

import (
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	entitlementrepository "github.com/predixa/entitlements/internal/entitlement/repository"
	entitlementservice "github.com/predixa/entitlements/internal/entitlement/service"
	"github.com/predixa/entitlements/internal/kv"
	"github.com/predixa/entitlements/internal/metricspush"
	"github.com/predixa/entitlements/internal/migration"
	"github.com/predixa/entitlements/internal/observability"
	"github.com/predixa/entitlements/internal/scheduler"
	webhookrepository "github.com/predixa/entitlements/internal/webhook/repository"
	"github.com/predixa/entitlements/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
		clock.Module,
		kv.Module,

		// Stores the background jobs read and prune
		fx.Provide(entitlementrepository.Provide),
		fx.Provide(entitlementservice.NewService),
		fx.Provide(webhookrepository.Provide),

		// No server module!
		scheduler.Module,
		metricspush.Module,
	)
	app.Run()
}
