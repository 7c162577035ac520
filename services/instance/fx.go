package instance

import (
	"go.uber.org/fx"
)

var Module = fx.Module("instance.store",
	fx.Provide(NewStore),
)
