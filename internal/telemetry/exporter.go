// Package telemetry exports run and evaluation metrics to an OTLP
// collector. When no collector is configured the no-op exporter keeps the
// rest of the system oblivious.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/run"
)

const (
	serviceName    = "seglab"
	serviceVersion = "1.0.0"
)

// Metrics is the exporter surface the orchestration layer depends on.
type Metrics interface {
	ExportRun(ctx context.Context, m *run.Metadata) error
	ExportEvaluation(ctx context.Context, dataset, checkpoint string, values map[string]float64) error
	Close(ctx context.Context) error
}

// Exporter ships metrics to an OTLP collector over gRPC.
type Exporter struct {
	provider     *sdkmetric.MeterProvider
	runsTotal    metric.Int64Counter
	durationHist metric.Float64Histogram
	scoreHist    metric.Float64Histogram
}

// NewExporter builds an OTLP exporter, or errors when disabled so callers
// can fall back to NewNoop.
func NewExporter(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return nil, fmt.Errorf("metrics exporter is disabled or endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	runsTotal, err := meter.Int64Counter(
		"seglab_runs_total",
		metric.WithDescription("Finalized runs by mode and state"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"seglab_run_duration_seconds",
		metric.WithDescription("Wall-clock run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	scoreHist, err := meter.Float64Histogram(
		"seglab_evaluation_score",
		metric.WithDescription("Aggregated evaluation metric values"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating score histogram: %w", err)
	}

	return &Exporter{
		provider:     provider,
		runsTotal:    runsTotal,
		durationHist: durationHist,
		scoreHist:    scoreHist,
	}, nil
}

// ExportRun records a finalized run.
func (e *Exporter) ExportRun(ctx context.Context, m *run.Metadata) error {
	attrs := []attribute.KeyValue{
		attribute.String("mode", string(m.Mode)),
		attribute.String("state", string(m.State)),
	}
	if m.Config != nil {
		attrs = append(attrs, attribute.String("dataset", m.Config.Dataset))
	}
	opt := metric.WithAttributes(attrs...)

	e.runsTotal.Add(ctx, 1, opt)
	if m.EndedAt != nil {
		e.durationHist.Record(ctx, m.EndedAt.Sub(m.StartedAt).Seconds(), opt)
	}
	return nil
}

// ExportEvaluation records aggregated metric values for one evaluation.
func (e *Exporter) ExportEvaluation(ctx context.Context, dataset, checkpoint string, values map[string]float64) error {
	for name, v := range values {
		e.scoreHist.Record(ctx, v, metric.WithAttributes(
			attribute.String("dataset", dataset),
			attribute.String("checkpoint", checkpoint),
			attribute.String("metric", name),
		))
	}
	return nil
}

// Close flushes pending metrics and shuts the provider down.
func (e *Exporter) Close(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
