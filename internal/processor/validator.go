// File: internal/processor/validator.go
package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

const (
	maxExternalIDLength = 255
	maxLabels           = 64
	maxClockSkew        = 24 * time.Hour
)

// EventValidator checks decoded provider events before they reach the rules
type EventValidator struct {
	now func() time.Time
}

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool               `json:"valid"`
	Errors []*ValidationError `json:"errors,omitempty"`
}

// NewEventValidator creates a new event validator
func NewEventValidator() *EventValidator {
	return &EventValidator{now: time.Now}
}

// ValidateEvent returns a validation AppError listing every problem
func (ev *EventValidator) ValidateEvent(event *models.StreamEvent) error {
	result := ev.ValidateEventDetailed(event)
	if result.Valid {
		return nil
	}
	var messages []string
	for _, e := range result.Errors {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return utils.NewAppError(utils.ErrCodeValidation, "Event validation failed", strings.Join(messages, "; "))
}

// ValidateEventDetailed validates an event and reports each failure
func (ev *EventValidator) ValidateEventDetailed(event *models.StreamEvent) *ValidationResult {
	result := &ValidationResult{Valid: true}
	fail := func(field, message string, value interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, &ValidationError{Field: field, Message: message, Value: value})
	}

	if event == nil {
		fail("event", "event is required", nil)
		return result
	}
	if strings.TrimSpace(event.TenantID) == "" {
		fail("tenant_id", "tenant is required", nil)
	}
	switch id := strings.TrimSpace(event.ExternalEventID); {
	case id == "":
		fail("external_event_id", "external event id is required", nil)
	case len(id) > maxExternalIDLength:
		fail("external_event_id", fmt.Sprintf("must be at most %d characters", maxExternalIDLength), len(id))
	}
	if len(event.Labels) > maxLabels {
		fail("labels", fmt.Sprintf("at most %d labels are allowed", maxLabels), len(event.Labels))
	}
	for i, label := range event.Labels {
		if strings.TrimSpace(label) == "" {
			fail(fmt.Sprintf("labels[%d]", i), "label must not be empty", nil)
		}
	}
	if !event.OccurredAt.IsZero() && event.OccurredAt.After(ev.now().Add(maxClockSkew)) {
		fail("occurred_at", "occurred_at is too far in the future", event.OccurredAt)
	}
	return result
}
