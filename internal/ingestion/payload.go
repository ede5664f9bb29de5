package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// ErrEmptyPayload is returned for bodies with nothing to decode
var ErrEmptyPayload = errors.New("empty payload")

// flexString accepts JSON strings and numbers; providers send ids as both
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type entityRef struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

type behaviorLabel struct {
	Label  string `json:"label"`
	Name   string `json:"name"`
	Source string `json:"source"`
}

type condition struct {
	TriggerID   flexString `json:"triggerId"`
	Description string     `json:"description"`
	Details     struct {
		Vehicle *entityRef `json:"vehicle"`
		Driver  *entityRef `json:"driver"`
	} `json:"details"`
}

// webhookPayload covers the provider's event envelope. Event id, time and
// org arrive under slightly different names depending on the event family.
type webhookPayload struct {
	EventID   flexString `json:"eventId"`
	ID        flexString `json:"id"`
	EventType string     `json:"eventType"`
	EventTime string     `json:"eventTime"`
	OrgID     flexString `json:"orgId"`
	Data      struct {
		ID             flexString      `json:"id"`
		HappenedAt     string          `json:"happenedAtTime"`
		Vehicle        *entityRef      `json:"vehicle"`
		Driver         *entityRef      `json:"driver"`
		Severity       string          `json:"severity"`
		Description    string          `json:"description"`
		BehaviorLabels []behaviorLabel `json:"behaviorLabels"`
		Conditions     []condition     `json:"conditions"`
	} `json:"data"`
}

// ParseWebhook decodes a provider webhook body into a stream event. The
// tenant is left empty for attribution.
func ParseWebhook(provider string, body []byte) (*models.StreamEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyPayload
	}
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}

	event := &models.StreamEvent{
		Provider:        strings.ToLower(provider),
		ProviderOrgID:   string(p.OrgID),
		ExternalEventID: firstNonEmpty(string(p.EventID), string(p.Data.ID), string(p.ID)),
		EventType:       p.EventType,
		Description:     p.Data.Description,
		Severity:        p.Data.Severity,
		OccurredAt:      parseTime(firstNonEmpty(p.Data.HappenedAt, p.EventTime)),
		Raw:             json.RawMessage(append([]byte(nil), body...)),
	}
	if event.ExternalEventID == "" {
		return nil, errors.New("payload has no event id")
	}

	vehicle, driver := p.Data.Vehicle, p.Data.Driver
	for _, c := range p.Data.Conditions {
		if vehicle == nil {
			vehicle = c.Details.Vehicle
		}
		if driver == nil {
			driver = c.Details.Driver
		}
		if c.Description != "" {
			event.Labels = append(event.Labels, c.Description)
			if event.Description == "" {
				event.Description = c.Description
			}
		}
	}
	for _, l := range p.Data.BehaviorLabels {
		if label := firstNonEmpty(l.Label, l.Name); label != "" {
			event.Labels = append(event.Labels, label)
		}
	}
	if vehicle != nil {
		event.VehicleID, event.VehicleName = string(vehicle.ID), vehicle.Name
	}
	if driver != nil {
		event.DriverID, event.DriverName = string(driver.ID), driver.Name
	}
	return event, nil
}

// ParseStreamMessage decodes one message from the provider event stream,
// which already carries the flat event shape.
func ParseStreamMessage(payload []byte) (*models.StreamEvent, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, ErrEmptyPayload
	}
	var msg struct {
		models.StreamEvent
		OccurredAt string `json:"occurred_at"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	event := msg.StreamEvent
	event.OccurredAt = parseTime(msg.OccurredAt)
	event.Raw = json.RawMessage(append([]byte(nil), payload...))
	if event.ExternalEventID == "" {
		return nil, errors.New("stream message has no event id")
	}
	return &event, nil
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	// epoch milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
