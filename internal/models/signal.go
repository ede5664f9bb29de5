package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Severity of a safety signal
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a provider severity string onto a Severity, defaulting
// to warning for anything unrecognised.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "low", "informational":
		return SeverityInfo
	case "critical", "high", "severe", "panic":
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Signal is the normalized, immutable record of one externally observed
// safety event.
type Signal struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	ExternalEventID string          `json:"external_event_id" db:"external_event_id"`
	EventType       string          `json:"event_type" db:"event_type"`
	Description     string          `json:"description" db:"description"`
	VehicleID       string          `json:"vehicle_id" db:"vehicle_id"`
	VehicleName     string          `json:"vehicle_name" db:"vehicle_name"`
	DriverID        string          `json:"driver_id" db:"driver_id"`
	DriverName      string          `json:"driver_name" db:"driver_name"`
	Severity        Severity        `json:"severity" db:"severity"`
	Labels          []string        `json:"labels" db:"labels"`
	OccurredAt      time.Time       `json:"occurred_at" db:"occurred_at"`
	RawPayload      json.RawMessage `json:"raw_payload" db:"raw_payload"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
