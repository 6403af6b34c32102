package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/predixa/entitlements/internal/accessgate"
	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/briefing"
	"github.com/predixa/entitlements/internal/cache"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/entitlement"
	"github.com/predixa/entitlements/internal/kv"
	"github.com/predixa/entitlements/internal/metricspush"
	"github.com/predixa/entitlements/internal/migration"
	"github.com/predixa/entitlements/internal/observability"
	"github.com/predixa/entitlements/internal/ratelimit"
	"github.com/predixa/entitlements/internal/scheduler"
	"github.com/predixa/entitlements/internal/server"
	"github.com/predixa/entitlements/internal/session"
	"github.com/predixa/entitlements/internal/webhook"
	"github.com/predixa/entitlements/pkg/db"
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
		kv.Module,

		// Functional Domains
		billing.Module,
		entitlement.Module,
		webhook.Module,
		session.Module,
		accessgate.Module,
		ratelimit.Module,
		cache.Module,
		briefing.Module,
		scheduler.Module,
		metricspush.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
