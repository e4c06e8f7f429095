package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Observability struct {
	meterProvider   *metric.MeterProvider
	tracerProvider  *sdktrace.TracerProvider
	meter           otelmetric.Meter
	tracer          trace.Tracer
	deliveryCounter otelmetric.Int64Counter
	deliveryLatency otelmetric.Float64Histogram
}

// New wires the OpenTelemetry meter (Prometheus exporter) and, when a Jaeger
// endpoint is configured, a tracer provider for fan-out spans.
func New(serviceName, jaegerEndpoint string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	deliveryCounter, _ := meter.Int64Counter(
		"webhooks.delivered",
		otelmetric.WithDescription("Number of webhook deliveries attempted"),
	)

	deliveryLatency, _ := meter.Float64Histogram(
		"webhooks.delivery.duration",
		otelmetric.WithDescription("Webhook delivery duration"),
		otelmetric.WithUnit("ms"),
	)

	o := &Observability{
		meterProvider:   provider,
		meter:           meter,
		deliveryCounter: deliveryCounter,
		deliveryLatency: deliveryLatency,
	}

	if jaegerEndpoint != "" {
		traceExporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
		if err != nil {
			log.Printf("Failed to create Jaeger exporter: %v", err)
		} else {
			tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
			otel.SetTracerProvider(tp)
			o.tracerProvider = tp
		}
	}
	o.tracer = otel.Tracer(serviceName)

	return o
}

// Tracer returns the service tracer. Safe to call on a zero-value instance.
func (o *Observability) Tracer() trace.Tracer {
	if o.tracer == nil {
		return otel.Tracer("booking-webhooks")
	}
	return o.tracer
}

func (o *Observability) RecordDelivery(ctx context.Context, trigger, status string) {
	if o.deliveryCounter != nil {
		o.deliveryCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("trigger", trigger),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordDeliveryDuration(ctx context.Context, duration time.Duration, trigger string) {
	if o.deliveryLatency != nil {
		o.deliveryLatency.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("trigger", trigger),
		))
	}
}

func (o *Observability) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if o.meterProvider != nil {
		o.meterProvider.Shutdown(ctx)
	}
	if o.tracerProvider != nil {
		o.tracerProvider.Shutdown(ctx)
	}
}
