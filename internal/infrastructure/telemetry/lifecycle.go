package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.uber.org/zap"
)

// ServiceVersion is reported on every exported span, metric and log record.
const ServiceVersion = "1.0.0"

// shutdownGrace bounds how long a provider may spend flushing on shutdown.
const shutdownGrace = 10 * time.Second

// serviceResource describes this process to the collector.
func serviceResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// sdkPipeline is the part of the trace, metric and log SDK providers the
// process lifecycle needs.
type sdkPipeline interface {
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// exportLifecycle holds one signal's SDK pipeline. A zero pipeline means the
// signal is disabled and every call is a no-op.
type exportLifecycle struct {
	signal   string
	pipeline sdkPipeline
	logger   *zap.Logger
}

func newExportLifecycle(signal string, logger *zap.Logger) exportLifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return exportLifecycle{signal: signal, logger: logger.With(zap.String("signal", signal))}
}

// IsEnabled reports whether the signal is exported.
func (l *exportLifecycle) IsEnabled() bool {
	return l.pipeline != nil
}

// ForceFlush exports everything buffered so far.
func (l *exportLifecycle) ForceFlush(ctx context.Context) error {
	if l.pipeline == nil {
		return nil
	}
	return l.pipeline.ForceFlush(ctx)
}

// Shutdown flushes and stops the pipeline. It waits at most shutdownGrace.
func (l *exportLifecycle) Shutdown(ctx context.Context) error {
	if l.pipeline == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	if err := l.pipeline.Shutdown(ctx); err != nil {
		l.logger.Error("Telemetry export shutdown failed", zap.Error(err))
		return fmt.Errorf("failed to shutdown %s export: %w", l.signal, err)
	}
	l.logger.Info("Telemetry export stopped")
	return nil
}
