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
	"reseller-billing/pkg/task"
	"reseller-billing/services/billing"
	"reseller-billing/services/bootstrap"
	"reseller-billing/services/coordinator"
	"reseller-billing/services/instance"
	"reseller-billing/services/scheduler"
	"reseller-billing/services/wallet"
)

// The panel serves the HTTP API, works the manual trigger queue, consumes
// wallet credits and runs the embedded billing scheduler, which stands down
// while a billing daemon is alive.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
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
		task.Client,
		task.Server,
		wallet.Module,
		instance.Module,
		events.Publishing,
		billing.Module,
		coordinator.Module,
		fx.Supply(coordinator.RoleEmbedded),
		scheduler.Module,
		scheduler.TaskModule,
		events.Consuming,
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
