package otelcol

import (
	"context"
	"errors"

	"reseller-billing/pkg/config"
	"reseller-billing/pkg/otelcol/exporters"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(NewRegistry),
	fx.Invoke(Register),
)

// NewRegistry returns the application registry. It is served on /metrics
// next to the default registry, which already carries the runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func newResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter trace.SpanExporter, opts ...trace.TracerProviderOption) *trace.TracerProvider {
	opts = append(opts, trace.WithBatcher(exporter))
	return trace.NewTracerProvider(opts...)
}

func ProvideMetric(reader metric.Reader, opts ...metric.Option) *metric.MeterProvider {
	opts = append(opts, metric.WithReader(reader))
	return metric.NewMeterProvider(opts...)
}

// Register installs global trace and meter providers exporting to OTEL.ADDR.
// Without an address the otel globals stay no-op.
func Register(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		zap.L().Info("otel exporter disabled")
		return nil
	}

	ctx := context.Background()
	res := newResource(cfg)

	spanExporter, err := exporters.NewSpanExporter(ctx, cfg)
	if err != nil {
		return err
	}
	metricExporter, err := exporters.NewMetricExporter(ctx, cfg)
	if err != nil {
		return err
	}

	tp := ProvideTrace(spanExporter, trace.WithResource(res))
	mp := ProvideMetric(metric.NewPeriodicReader(metricExporter), metric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	zap.L().Info("otel exporter enabled",
		zap.String("addr", cfg.Otel.Addr),
		zap.String("protocol", cfg.Otel.Protocol),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	})
	return nil
}
