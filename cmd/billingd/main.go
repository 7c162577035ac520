package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"reseller-billing/pkg/config"
	"reseller-billing/pkg/db"
	"reseller-billing/pkg/events"
	"reseller-billing/pkg/gen"
	"reseller-billing/pkg/health"
	"reseller-billing/pkg/httpapi"
	"reseller-billing/pkg/logger"
	"reseller-billing/pkg/otelcol"
	"reseller-billing/pkg/profiling"
	"reseller-billing/pkg/redis"
	"reseller-billing/pkg/sequence"
	"reseller-billing/pkg/server"
	"reseller-billing/services/billing"
	"reseller-billing/services/bootstrap"
	"reseller-billing/services/coordinator"
	"reseller-billing/services/instance"
	"reseller-billing/services/scheduler"
	"reseller-billing/services/wallet"
)

// billingd is the standalone billing daemon. It bills on every tick without
// consulting peers, and the panel defers to it while its heartbeat is fresh.
// It exposes probes, metrics and the read-only billing API; manual triggers
// stay with the panel's queue worker.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := gen.RequireDistinctNode(cfg); err != nil {
		log.Fatalf("billingd: %v", err)
	}

	opts := []fx.Option{
		config.Options(cfg),
		logger.Module,
		otelcol.Module,
		db.Module,
		bootstrap.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		wallet.Module,
		instance.Module,
		events.Publishing,
		billing.Module,
		coordinator.Module,
		fx.Supply(coordinator.RoleExternal),
		scheduler.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		profiling.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger.Named("fx")}
})
