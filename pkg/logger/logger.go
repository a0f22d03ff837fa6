// Package logger builds the process-wide zap logger and enriches log
// entries with OpenTelemetry trace identifiers so log lines can be
// joined with traces.
package logger

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// New returns a configured zap logger. env "development" switches to
// the human-readable console encoder.
func New(env string) (*zap.Logger, error) {
	if env == "development" {
		log, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to build development logger: %w", err)
		}
		return log, nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build production logger: %w", err)
	}
	return log, nil
}

// WithTrace returns the logger annotated with the trace and span ids
// of the current span, if the context carries one.
func WithTrace(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
