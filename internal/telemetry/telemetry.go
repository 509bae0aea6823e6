// Package telemetry wires OpenTelemetry structured logging and metrics
// for the orchestrator and task lifecycle. Less critical, high-frequency
// events still use plain log.Printf("[component] ...") the way the rest
// of this codebase does; telemetry is reserved for cluster/task
// lifecycle transitions an operator would want to alert or dashboard on.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures OTLP export. When Enabled is false, New returns a
// Telemetry whose Logger/Meter are no-ops.
type Config struct {
	Enabled     bool
	Endpoint    string // e.g. "localhost:4318"
	Insecure    bool
	ServiceName string
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "zeroshot-orchestrator"
	}
	return c
}

// Telemetry bundles the logger and metric instruments the orchestrator
// and task executor emit events through.
type Telemetry struct {
	cfg      Config
	logger   otellog.Logger
	meter    metric.Meter
	shutdown []func(context.Context) error

	clustersStarted  metric.Int64Counter
	tasksCompleted   metric.Int64Counter
	tasksFailed      metric.Int64Counter
	taskDuration     metric.Float64Histogram
}

// New sets up OTLP log and metric exporters per cfg. Callers must call
// Shutdown before exiting to flush buffered telemetry.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	cfg = cfg.withDefaults()
	t := &Telemetry{cfg: cfg}

	if !cfg.Enabled {
		t.logger = otel.GetLoggerProvider().Logger(cfg.ServiceName)
		t.meter = otel.GetMeterProvider().Meter(cfg.ServiceName)
		if err := t.registerInstruments(); err != nil {
			return nil, err
		}
		return t, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	logExporterOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
	metricExporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		logExporterOpts = append(logExporterOpts, otlploghttp.WithInsecure())
		metricExporterOpts = append(metricExporterOpts, otlpmetrichttp.WithInsecure())
	}

	logExporter, err := otlploghttp.New(ctx, logExporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	otel.SetLoggerProvider(loggerProvider)
	t.shutdown = append(t.shutdown, loggerProvider.Shutdown)

	metricExporter, err := otlpmetrichttp.New(ctx, metricExporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
	)
	t.shutdown = append(t.shutdown, meterProvider.Shutdown)

	t.logger = loggerProvider.Logger(cfg.ServiceName)
	t.meter = meterProvider.Meter(cfg.ServiceName)
	if err := t.registerInstruments(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Telemetry) registerInstruments() error {
	var err error
	if t.clustersStarted, err = t.meter.Int64Counter("zeroshot.clusters.started"); err != nil {
		return err
	}
	if t.tasksCompleted, err = t.meter.Int64Counter("zeroshot.tasks.completed"); err != nil {
		return err
	}
	if t.tasksFailed, err = t.meter.Int64Counter("zeroshot.tasks.failed"); err != nil {
		return err
	}
	if t.taskDuration, err = t.meter.Float64Histogram("zeroshot.tasks.duration_seconds"); err != nil {
		return err
	}
	return nil
}

// Shutdown flushes and tears down every registered exporter.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClusterStarted records a cluster start event.
func (t *Telemetry) ClusterStarted(ctx context.Context, clusterID string) {
	t.clustersStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("cluster_id", clusterID)))
	t.emit(ctx, otellog.SeverityInfo, "cluster started", attribute.String("cluster_id", clusterID))
}

// TaskCompleted records a task completion and its wall-clock duration.
func (t *Telemetry) TaskCompleted(ctx context.Context, clusterID, taskID string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("cluster_id", clusterID),
		attribute.String("task_id", taskID),
	}
	t.tasksCompleted.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.taskDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	t.emit(ctx, otellog.SeverityInfo, "task completed", attrs...)
}

// TaskFailed records a task failure.
func (t *Telemetry) TaskFailed(ctx context.Context, clusterID, taskID, reason string) {
	attrs := []attribute.KeyValue{
		attribute.String("cluster_id", clusterID),
		attribute.String("task_id", taskID),
		attribute.String("reason", reason),
	}
	t.tasksFailed.Add(ctx, 1, metric.WithAttributes(attrs...))
	t.emit(ctx, otellog.SeverityError, "task failed", attrs...)
}

func (t *Telemetry) emit(ctx context.Context, sev otellog.Severity, body string, attrs ...attribute.KeyValue) {
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetSeverity(sev)
	rec.SetBody(otellog.StringValue(body))
	kvs := make([]otellog.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		kvs = append(kvs, otellog.String(string(a.Key), a.Value.AsString()))
	}
	rec.AddAttributes(kvs...)
	t.logger.Emit(ctx, rec)
}
