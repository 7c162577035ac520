package bootstrap

import (
	"context"

	"go.uber.org/fx"
)

// Module migrates the schema on start. List it before any module whose
// start hook touches the database.
var Module = fx.Module("bootstrap",
	fx.Provide(
		NewService,
	),
	fx.Invoke(runBootstrap),
)

func runBootstrap(lc fx.Lifecycle, b *Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Migrate(ctx)
		},
	})
}
