package ws

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	votel "github.com/voyago/voyago/internal/adapter/otel"
)

// trackStream counts an open connection on the stream gauge and returns
// the matching decrement. Safe with a nil Metrics.
func trackStream(ctx context.Context, m *votel.Metrics, kind string) func() {
	if m == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(attribute.String("stream", kind))
	m.StreamConnections.Add(ctx, 1, attrs)
	return func() {
		m.StreamConnections.Add(context.WithoutCancel(ctx), -1, attrs)
	}
}
