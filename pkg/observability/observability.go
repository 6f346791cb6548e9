// Package observability provides OpenTelemetry-based tracing and metrics for
// the adjudication service.
//
// Metrics follow the RED pattern over the submission pipeline: rate
// (submissions), errors (hard failures), duration, plus domain counters for
// paid and rejected outcomes by reason. No metric attribute ever carries a
// patient token.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/veris/pkg/adjudicator"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	BatchTimeout   time.Duration // how long to wait before sending batched spans
	Enabled        bool
	Insecure       bool // dev only
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "veris",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages trace and metric providers and the engine's instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	submissions    metric.Int64Counter
	hardFailures   metric.Int64Counter
	paidTotal      metric.Int64Counter
	rejectedTotal  metric.Int64Counter
	amountPaid     metric.Int64Counter
	submitDuration metric.Float64Histogram
}

// New creates a provider. With Enabled false the no-op global providers back
// the instruments, so callers never branch.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if config.Enabled {
		if err := p.setupTracing(ctx); err != nil {
			return nil, fmt.Errorf("observability: tracing setup: %w", err)
		}
		if err := p.setupMetrics(ctx); err != nil {
			return nil, fmt.Errorf("observability: metrics setup: %w", err)
		}
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{}))
	} else {
		p.logger.InfoContext(ctx, "observability disabled")
	}

	p.tracer = otel.Tracer(config.ServiceName)
	p.meter = otel.Meter(config.ServiceName)
	if err := p.createInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) resource() (*resource.Resource, error) {
	return resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(p.config.ServiceName),
		semconv.ServiceVersion(p.config.ServiceVersion),
		semconv.DeploymentEnvironment(p.config.Environment),
	))
}

func (p *Provider) setupTracing(ctx context.Context) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	res, err := p.resource()
	if err != nil {
		return err
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(p.tracerProvider)
	return nil
}

func (p *Provider) setupMetrics(ctx context.Context) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	res, err := p.resource()
	if err != nil {
		return err
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) createInstruments() error {
	var err error
	if p.submissions, err = p.meter.Int64Counter("veris.submissions",
		metric.WithDescription("Claim submissions received")); err != nil {
		return err
	}
	if p.hardFailures, err = p.meter.Int64Counter("veris.hard_failures",
		metric.WithDescription("Submissions aborted with a hard failure")); err != nil {
		return err
	}
	if p.paidTotal, err = p.meter.Int64Counter("veris.paid",
		metric.WithDescription("Settled claims")); err != nil {
		return err
	}
	if p.rejectedTotal, err = p.meter.Int64Counter("veris.rejected",
		metric.WithDescription("Policy rejections by reason")); err != nil {
		return err
	}
	if p.amountPaid, err = p.meter.Int64Counter("veris.amount_paid",
		metric.WithDescription("Total minor units disbursed"),
		metric.WithUnit("{minor_unit}")); err != nil {
		return err
	}
	if p.submitDuration, err = p.meter.Float64Histogram("veris.submit.duration",
		metric.WithDescription("Submission processing duration"),
		metric.WithUnit("ms")); err != nil {
		return err
	}
	return nil
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// RecordSubmission records one submission attempt and its duration.
// status is "ok" for processed submissions and "hard_failure" for aborts.
func (p *Provider) RecordSubmission(ctx context.Context, d time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.submissions.Add(ctx, 1, attrs)
	if status != "ok" {
		p.hardFailures.Add(ctx, 1, attrs)
	}
	p.submitDuration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// ClaimPaid implements adjudicator.Observer.
func (p *Provider) ClaimPaid(paid adjudicator.Paid) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.Int("code", int(paid.Code)))
	p.paidTotal.Add(ctx, 1, attrs)
	p.amountPaid.Add(ctx, paid.Amount, attrs)
}

// ClaimRejected implements adjudicator.Observer.
func (p *Provider) ClaimRejected(r adjudicator.Rejected) {
	p.rejectedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", string(r.Reason)),
		attribute.Int("code", int(r.Code)),
	))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
