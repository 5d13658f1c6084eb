package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	votel "github.com/voyago/voyago/internal/adapter/otel"
	"github.com/voyago/voyago/internal/domain/alert"
	"github.com/voyago/voyago/internal/port/broker"
)

// AlertPublisher fans proactive alerts out through the broker. Every
// alert goes to the itinerary channel; when a user id is known it goes
// to the user channel as well, so both subscription styles see it.
type AlertPublisher struct {
	broker  broker.Broker
	metrics *votel.Metrics
	log     *slog.Logger
}

func NewAlertPublisher(b broker.Broker, log *slog.Logger) *AlertPublisher {
	return &AlertPublisher{broker: b, log: log}
}

// SetMetrics attaches metric instruments. Without them the publisher
// runs uninstrumented.
func (p *AlertPublisher) SetMetrics(m *votel.Metrics) {
	p.metrics = m
}

// Publish sends the alert to its channels. userID may be empty.
func (p *AlertPublisher) Publish(ctx context.Context, userID string, a alert.Alert) error {
	if a.ItineraryID == "" {
		return fmt.Errorf("publish alert: itinerary_id is required")
	}
	if a.AlertType == "" {
		a.AlertType = alert.TypeGeneral
	}
	ctx, span := votel.StartAlertSpan(ctx, a.ItineraryID, a.AlertType)
	defer span.End()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if err := p.broker.Publish(ctx, broker.ItineraryAlerts(a.ItineraryID), data); err != nil {
		return fmt.Errorf("publish itinerary alert: %w", err)
	}
	if userID != "" {
		if err := p.broker.Publish(ctx, broker.UserAlerts(userID), data); err != nil {
			return fmt.Errorf("publish user alert: %w", err)
		}
	}

	if p.metrics != nil {
		p.metrics.AlertsPublished.Add(ctx, 1, metric.WithAttributes(
			attribute.String("alert_type", a.AlertType),
			attribute.String("severity", string(a.Severity)),
		))
	}
	p.log.Info("proactive alert published",
		"itinerary_id", a.ItineraryID,
		"alert_type", a.AlertType,
		"severity", a.Severity,
	)
	return nil
}
