package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
)

const instrumentationName = "github.com/Mindburn-Labs/actsafe"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string        // e.g. "localhost:4317"; empty disables export
	Insecure       bool          // plaintext gRPC (dev only)
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
}

// DefaultConfig returns the local-development defaults. Export is off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "actsafe",
		ServiceVersion: "1.0.0",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// Provider manages the trace and metric providers and the ledger instruments.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	// RED metrics
	operationCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
	durationHist     metric.Float64Histogram
	activeOperations metric.Int64UpDownCounter

	// ledger metrics
	transitionCounter metric.Int64Counter
	violationCounter  metric.Int64Counter
	duplicateCounter  metric.Int64Counter
}

// New creates a provider. A nil config means DefaultConfig.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if config.OTLPEndpoint == "" {
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initInstruments(); err != nil {
			return nil, fmt.Errorf("failed to init instruments: %w", err)
		}
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
		"insecure", config.Insecure,
	)
	return p, nil
}

// Noop returns a provider backed by the global tracer and meter.
func Noop() *Provider {
	p, err := New(context.Background(), &Config{})
	if err != nil {
		// instrument creation on the global meter does not fail
		panic(err)
	}
	return p
}

// NewWithProviders builds a provider on caller-owned tracer and meter
// providers. Shutdown leaves them running.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		config: DefaultConfig(),
		tracer: tp.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
	return p, p.initInstruments()
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	batchTimeout := p.config.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	if p.operationCounter, err = p.meter.Int64Counter("actsafe.operations.total",
		metric.WithDescription("Ledger operations started"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.errorCounter, err = p.meter.Int64Counter("actsafe.errors.total",
		metric.WithDescription("Ledger operations that returned an error"),
		metric.WithUnit("{error}"),
	); err != nil {
		return err
	}
	if p.durationHist, err = p.meter.Float64Histogram("actsafe.operation.duration",
		metric.WithDescription("Ledger operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	); err != nil {
		return err
	}
	if p.activeOperations, err = p.meter.Int64UpDownCounter("actsafe.operations.active",
		metric.WithDescription("Ledger operations in flight"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return err
	}
	if p.transitionCounter, err = p.meter.Int64Counter("actsafe.receipts.transitions.total",
		metric.WithDescription("Receipts persisted, by status"),
		metric.WithUnit("{receipt}"),
	); err != nil {
		return err
	}
	if p.violationCounter, err = p.meter.Int64Counter("actsafe.policy.violations.total",
		metric.WithDescription("Commits rejected by policy, by reason code"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return err
	}
	if p.duplicateCounter, err = p.meter.Int64Counter("actsafe.replay.duplicates.total",
		metric.WithDescription("Request ids marked processed more than once"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and stops the providers. Errors are logged, not returned.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter { return p.meter }

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, opts...)
}

// RecordError counts a failed operation, labelled with the error kind.
func (p *Provider) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	kind := string(acterr.KindOf(err))
	if kind == "" {
		kind = "Unclassified"
	}
	all := append(append([]attribute.KeyValue{}, attrs...), AttrErrorKind.String(kind))
	p.errorCounter.Add(ctx, 1, metric.WithAttributes(all...))
}

// RecordDuration records the duration of an operation.
func (p *Provider) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	p.durationHist.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTransition counts a persisted receipt state.
func (p *Provider) RecordTransition(ctx context.Context, kind, status string) {
	p.transitionCounter.Add(ctx, 1, metric.WithAttributes(
		AttrActionKind.String(kind),
		AttrReceiptStatus.String(status),
	))
}

// RecordPolicyViolation counts a policy rejection.
func (p *Provider) RecordPolicyViolation(ctx context.Context, code string) {
	p.violationCounter.Add(ctx, 1, metric.WithAttributes(AttrPolicyCode.String(code)))
}

// RecordReplayDuplicate counts a repeated MarkProcessed.
func (p *Provider) RecordReplayDuplicate(ctx context.Context) {
	p.duplicateCounter.Add(ctx, 1)
}

// TrackOperation tracks an operation from start to finish.
// The returned function must be called exactly once with the outcome.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	opAttrs := append(append([]attribute.KeyValue{}, attrs...), AttrOperation.String(name))
	p.activeOperations.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(name)))
	p.operationCounter.Add(ctx, 1, metric.WithAttributes(opAttrs...))

	return ctx, func(err error) {
		p.activeOperations.Add(ctx, -1, metric.WithAttributes(AttrOperation.String(name)))
		p.RecordDuration(ctx, time.Since(start), AttrOperation.String(name))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.RecordError(ctx, err, AttrOperation.String(name))
		}
		span.End()
	}
}
