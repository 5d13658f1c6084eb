package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "voyago"

// Metrics holds all Voyago metric instruments.
type Metrics struct {
	GenerationsStarted metric.Int64Counter
	ReplansStarted     metric.Int64Counter
	TasksCompleted     metric.Int64Counter
	TasksFailed        metric.Int64Counter
	AlertsPublished    metric.Int64Counter
	StreamConnections  metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.GenerationsStarted, err = meter.Int64Counter("voyago.generations.started",
		metric.WithDescription("Number of itinerary generations started"))
	if err != nil {
		return nil, err
	}

	m.ReplansStarted, err = meter.Int64Counter("voyago.replans.started",
		metric.WithDescription("Number of replans started"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("voyago.tasks.completed",
		metric.WithDescription("Number of generation/replan tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("voyago.tasks.failed",
		metric.WithDescription("Number of generation/replan tasks failed"))
	if err != nil {
		return nil, err
	}

	m.AlertsPublished, err = meter.Int64Counter("voyago.alerts.published",
		metric.WithDescription("Number of proactive alerts published"))
	if err != nil {
		return nil, err
	}

	m.StreamConnections, err = meter.Int64UpDownCounter("voyago.stream.connections",
		metric.WithDescription("Currently open WebSocket stream connections"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
