package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	chargeCounter  otelmetric.Int64Counter
	chargeDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	chargeCounter, _ := meter.Int64Counter(
		"charges.processed",
		otelmetric.WithDescription("Number of charge attempts processed"),
	)

	chargeDuration, _ := meter.Float64Histogram(
		"charges.duration",
		otelmetric.WithDescription("Charge attempt duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:  provider,
		meter:          meter,
		chargeCounter:  chargeCounter,
		chargeDuration: chargeDuration,
	}
}

func (o *Observability) RecordChargeProcessed(ctx context.Context, outcome string) {
	if o.chargeCounter != nil {
		o.chargeCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordChargeDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o.chargeDuration != nil {
		o.chargeDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
