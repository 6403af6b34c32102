package briefing

import "go.uber.org/fx"

var Module = fx.Module("briefing.service",
	fx.Provide(NewService),
)
