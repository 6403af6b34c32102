package stripe

import "go.uber.org/fx"

var Module = fx.Module("billing.stripe",
	fx.Provide(NewClient),
)
