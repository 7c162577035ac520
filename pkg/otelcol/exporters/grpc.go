package exporters

import (
	"context"
	"time"

	"reseller-billing/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

// NewSpanExporter picks the OTLP transport from OTEL.PROTOCOL.
func NewSpanExporter(ctx context.Context, cfg *config.Config) (trace.SpanExporter, error) {
	if cfg.Otel.Protocol == "http" {
		return ProvideHttp(ctx, cfg)
	}
	return ProvideGrpc(ctx, cfg)
}

func ProvideGrpc(ctx context.Context, cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithCompressor("gzip"),
	)

	return otlptrace.New(ctx, client)
}

// NewMetricExporter always uses gRPC; the collector accepts metrics there
// regardless of the trace protocol.
func NewMetricExporter(ctx context.Context, cfg *config.Config) (metric.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Otel.Addr),
		otlpmetricgrpc.WithInsecure(),
	)
}
