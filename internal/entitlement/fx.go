package entitlement

import (
	"github.com/predixa/entitlements/internal/entitlement/repository"
	"github.com/predixa/entitlements/internal/entitlement/resolver"
	"github.com/predixa/entitlements/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	resolver.Module,
)
