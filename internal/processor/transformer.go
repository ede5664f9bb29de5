// File: internal/processor/transformer.go
package processor

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// EventTransformer turns decoded provider events into signals and alerts
type EventTransformer struct {
	now func() time.Time
}

// NewEventTransformer creates a new event transformer
func NewEventTransformer() *EventTransformer {
	return &EventTransformer{now: time.Now}
}

// NormalizeLabels lowercases, trims and de-duplicates behavior labels,
// keeping first-seen order
func (et *EventTransformer) NormalizeLabels(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// BuildSignalAndAlert creates the immutable signal and its pending alert
func (et *EventTransformer) BuildSignalAndAlert(event *models.StreamEvent) (*models.Signal, *models.Alert) {
	now := et.now().UTC()
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = now
	}
	raw := event.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(event)
	}
	severity := models.ParseSeverity(event.Severity)

	signal := &models.Signal{
		ID:              utils.GenerateID(),
		TenantID:        event.TenantID,
		ExternalEventID: strings.TrimSpace(event.ExternalEventID),
		EventType:       event.EventType,
		Description:     event.Description,
		VehicleID:       event.VehicleID,
		VehicleName:     event.VehicleName,
		DriverID:        event.DriverID,
		DriverName:      event.DriverName,
		Severity:        severity,
		Labels:          et.NormalizeLabels(event.Labels),
		OccurredAt:      occurred.UTC(),
		RawPayload:      raw,
		CreatedAt:       now,
	}
	alert := &models.Alert{
		ID:                 utils.GenerateID(),
		TenantID:           event.TenantID,
		SignalID:           signal.ID,
		ExternalEventID:    signal.ExternalEventID,
		Severity:           severity,
		Status:             models.AlertStatusPending,
		NotificationStatus: models.AlertNotificationNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return signal, alert
}
