package httpapi

import (
	"context"

	"reseller-billing/pkg/config"
	"reseller-billing/pkg/health"
	"reseller-billing/pkg/middleware"
	"reseller-billing/services/billing"
	"reseller-billing/services/coordinator"
	"reseller-billing/services/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		func(s *coordinator.Service) StatusReader { return s },
		func(e *billing.Executor) RunReader { return e },
		func(s *wallet.Service) WalletReader { return s },
		NewHandler,
		NewRouter,
	),
)

type StatusReader interface {
	Status(ctx context.Context) (*coordinator.Status, error)
}

type RunReader interface {
	Runs(ctx context.Context, limit int) ([]billing.BillingRun, error)
	Records(ctx context.Context, runID string) ([]billing.BillingCycleRecord, error)
}

type WalletReader interface {
	GetAccount(ctx context.Context, organizationID string) (*wallet.WalletAccount, error)
	ListEntries(ctx context.Context, organizationID string) ([]wallet.LedgerEntry, error)
	Reconcile(ctx context.Context, organizationID string) (*wallet.ReconcileReport, error)
	VerifyChain(ctx context.Context, organizationID string) (bool, error)
}

type RouterParams struct {
	fx.In
	Config   *config.Config `optional:"true"`
	Handler  *Handler
	Health   health.HealthService
	Registry *prometheus.Registry `optional:"true"`
}

func NewRouter(p RouterParams) *gin.Engine {
	if p.Config != nil && p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", metricsHandler(p.Registry))

	v1 := r.Group("/v1")
	{
		b := v1.Group("/billing")
		b.GET("/status", p.Handler.Status)
		b.GET("/runs", p.Handler.ListRuns)
		b.GET("/runs/:run_id/records", p.Handler.ListRecords)
		b.POST("/run", p.Handler.TriggerRun)

		w := v1.Group("/wallets/:organization_id")
		w.GET("", p.Handler.GetWallet)
		w.GET("/entries", p.Handler.ListEntries)
	}

	zap.L().Debug("http routes registered", zap.Int("routes", len(r.Routes())))
	return r
}

func metricsHandler(reg *prometheus.Registry) gin.HandlerFunc {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if reg != nil {
		gatherers = append(gatherers, reg)
	}
	return gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
}
