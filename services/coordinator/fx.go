package coordinator

import (
	"go.uber.org/fx"
)

var Module = fx.Module("coordinator.service",
	fx.Provide(NewService),
)
