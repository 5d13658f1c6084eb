// Package alert defines the proactive travel alert payload pushed to
// subscribed clients.
package alert

// Severity grades how urgent an alert is for the traveler.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Well-known alert types. AlertType is an open set; unknown values are
// delivered as-is and default to "general" on the wire.
const (
	TypeWeatherWarning = "weather_warning"
	TypeTrafficAlert   = "traffic_alert"
	TypeCrowdWarning   = "crowd_warning"
	TypeVenueClosure   = "venue_closure"
	TypeScheduleChange = "schedule_change"
	TypeGeneral        = "general"
)

// Alert is the payload published to the per-user and per-itinerary
// alert channels.
type Alert struct {
	AlertType          string   `json:"alert_type"`
	ItineraryID        string   `json:"itinerary_id"`
	Severity           Severity `json:"severity"`
	Title              string   `json:"title"`
	Message            string   `json:"message"`
	AffectedDay        int      `json:"affected_day,omitempty"`
	AffectedActivities []string `json:"affected_activities,omitempty"`
	ActionURL          string   `json:"action_url,omitempty"`
	ActionText         string   `json:"action_text,omitempty"`
}
