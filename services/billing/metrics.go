package billing

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
)

const instrumentationName = "reseller-billing/billing"

type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	ChargesTotal    *prometheus.CounterVec
	ChargedAmount   prometheus.Counter
	RunDuration     prometheus.Histogram
	LastRunUnixTime prometheus.Gauge

	charges  metric.Int64Counter
	duration metric.Float64Histogram
}

type MetricsParams struct {
	fx.In
	Registry *prometheus.Registry `optional:"true"`
}

// NewMetrics registers the billing collectors on p.Registry when one is
// provided. OTLP instruments come from the global meter provider.
func NewMetrics(p MetricsParams) (*Metrics, error) {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_runs_total",
				Help: "Billing cycles executed, by trigger and final status",
			},
			[]string{"trigger", "status"},
		),
		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_charges_total",
				Help: "Per-instance charge attempts, by outcome",
			},
			[]string{"status"},
		),
		ChargedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_charged_amount_total",
			Help: "Sum of successfully debited amounts",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "billing_run_duration_seconds",
			Help:    "Wall time of one billing cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		LastRunUnixTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "billing_last_run_timestamp_seconds",
			Help: "Completion time of the last billing cycle",
		}),
	}

	if p.Registry != nil {
		p.Registry.MustRegister(m.RunsTotal, m.ChargesTotal, m.ChargedAmount, m.RunDuration, m.LastRunUnixTime)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if m.charges, err = meter.Int64Counter("billing.charges",
		metric.WithDescription("Per-instance charge attempts")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("billing.run.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Wall time of one billing cycle")); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) observeCharge(ctx context.Context, status RecordStatus) {
	m.ChargesTotal.WithLabelValues(string(status)).Inc()
	m.charges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) observeRun(ctx context.Context, res *RunResult, status RunStatus) {
	elapsed := res.CompletedAt.Sub(res.StartedAt)
	m.RunsTotal.WithLabelValues(string(res.Trigger), string(status)).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	m.LastRunUnixTime.Set(float64(res.CompletedAt.UnixNano()) / float64(time.Second))
	amount, _ := res.TotalAmount.Float64()
	m.ChargedAmount.Add(amount)
	m.duration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("trigger", string(res.Trigger)), attribute.String("status", string(status))))
}
