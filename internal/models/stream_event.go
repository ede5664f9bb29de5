package models

import (
	"encoding/json"
	"time"
)

// StreamEvent is a decoded provider safety event, before tenant rules or
// persistence have touched it.
type StreamEvent struct {
	TenantID        string          `json:"tenant_id"`
	Provider        string          `json:"provider"`
	ProviderOrgID   string          `json:"provider_org_id,omitempty"`
	ExternalEventID string          `json:"external_event_id"`
	EventType       string          `json:"event_type"`
	Description     string          `json:"description,omitempty"`
	VehicleID       string          `json:"vehicle_id,omitempty"`
	VehicleName     string          `json:"vehicle_name,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
	DriverName      string          `json:"driver_name,omitempty"`
	Severity        string          `json:"severity,omitempty"`
	Labels          []string        `json:"labels"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Raw             json.RawMessage `json:"-"`
}
