package scheduler

import (
	"context"

	"reseller-billing/pkg/config"
	"reseller-billing/services/billing"
	"reseller-billing/services/coordinator"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module hosts the billing harness in an fx app. The binary supplies the
// coordinator.Role it runs as.
var Module = fx.Module("billing.scheduler",
	fx.Provide(NewHarness),
	fx.Invoke(registerLifecycle),
)

type HarnessParams struct {
	fx.In
	Config      *config.Config
	Role        coordinator.Role
	Executor    *billing.Executor
	Coordinator *coordinator.Service
	Shutdowner  fx.Shutdowner
}

func NewHarness(p HarnessParams) *Harness {
	opts := Options{
		Role:              p.Role,
		Interval:          p.Config.Billing.Interval,
		GraceDelay:        p.Config.Billing.GraceDelay,
		HeartbeatInterval: p.Config.Billing.HeartbeatInterval,
	}

	// the daemon has nothing else to do once its identity is gone
	if p.Role == coordinator.RoleExternal {
		opts.OnFault = func(err error) {
			zap.L().Error("billing daemon shutting down after harness fault", zap.Error(err))
			_ = p.Shutdowner.Shutdown(fx.ExitCode(1))
		}
	}

	return New(opts, p.Executor, p.Coordinator)
}

func registerLifecycle(lc fx.Lifecycle, h *Harness) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return h.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return h.Stop(ctx)
		},
	})
}
