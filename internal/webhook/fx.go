package webhook

import (
	billing "github.com/predixa/entitlements/internal/billing/stripe"
	"github.com/predixa/entitlements/internal/config"
	"github.com/predixa/entitlements/internal/webhook/adapters"
	"github.com/predixa/entitlements/internal/webhook/adapters/revenuecat"
	"github.com/predixa/entitlements/internal/webhook/adapters/stripe"
	"github.com/predixa/entitlements/internal/webhook/repository"
	"github.com/predixa/entitlements/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, client billing.Client) *adapters.Registry {
		return adapters.NewRegistry(
			revenuecat.NewAdapter(cfg),
			stripe.NewAdapter(cfg, client),
		)
	}),
	fx.Provide(service.NewService),
)
