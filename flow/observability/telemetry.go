package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig configures the node's OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
}

// Metrics groups the instruments the runtime records against. All instruments
// are safe to record against even before Init is called (they back onto a
// noop meter in that case).
type Metrics struct {
	meter apimetric.Meter

	DispatchMiss    apimetric.Int64Counter
	OutputTriggered apimetric.Int64Counter
	InstanceCreated apimetric.Int64Counter
	InstanceEvicted apimetric.Int64Counter
	QueueDepth      apimetric.Int64UpDownCounter
	QueueOverflow   apimetric.Int64Counter
}

// NewMetrics constructs instruments against the currently installed global
// MeterProvider (a noop provider until Init configures a real exporter).
func NewMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter("github.com/coachpo/flow")
	m := &Metrics{meter: meter}

	m.DispatchMiss, _ = meter.Int64Counter("flow.dispatch.miss",
		apimetric.WithDescription("events dropped for lack of a matching PE handler"))
	m.OutputTriggered, _ = meter.Int64Counter("flow.output.triggered",
		apimetric.WithDescription("output handler invocations, by trigger kind"))
	m.InstanceCreated, _ = meter.Int64Counter("flow.registry.instance_created",
		apimetric.WithDescription("PE instances created"))
	m.InstanceEvicted, _ = meter.Int64Counter("flow.registry.instance_evicted",
		apimetric.WithDescription("PE instances evicted or removed"))
	m.QueueDepth, _ = meter.Int64UpDownCounter("flow.stream.queue_depth",
		apimetric.WithDescription("current depth of a stream's local delivery queue"))
	m.QueueOverflow, _ = meter.Int64Counter("flow.stream.queue_overflow",
		apimetric.WithDescription("events dropped because a bounded stream queue was full"))
	return m
}

// Init configures OpenTelemetry metrics exporters based on the provided
// configuration. With no endpoint configured it installs a noop provider so
// instruments remain safe to use.
func Init(ctx context.Context, cfg TelemetryConfig) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "flow-node"
	}

	if endpoint == "" {
		otel.SetMeterProvider(noop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Insecure {
		insecure = true
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
