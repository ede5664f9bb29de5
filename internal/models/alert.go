package models

import "time"

// AlertStatus tracks where an alert is in its processing lifecycle
type AlertStatus string

const (
	AlertStatusPending       AlertStatus = "pending"
	AlertStatusProcessing    AlertStatus = "processing"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusCompleted     AlertStatus = "completed"
	AlertStatusFailed        AlertStatus = "failed"
)

// Notification status values carried on the alert
const (
	AlertNotificationNone   = "none"
	AlertNotificationSent   = "sent"
	AlertNotificationFailed = "failed"
)

// Alert is the tenant's processing unit derived from exactly one Signal.
type Alert struct {
	ID                 string      `json:"id" db:"id"`
	TenantID           string      `json:"tenant_id" db:"tenant_id"`
	SignalID           string      `json:"signal_id" db:"signal_id"`
	ExternalEventID    string      `json:"external_event_id" db:"external_event_id"`
	Severity           Severity    `json:"severity" db:"severity"`
	Status             AlertStatus `json:"status" db:"status"`
	Verdict            string      `json:"verdict,omitempty" db:"verdict"`
	Message            string      `json:"message,omitempty" db:"message"`
	NotificationStatus string      `json:"notification_status" db:"notification_status"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// AlertUpdate carries the mutable fields an alert transition may change.
// Nil fields are left untouched.
type AlertUpdate struct {
	Status             *AlertStatus
	Verdict            *string
	Message            *string
	Severity           *Severity
	NotificationStatus *string
}

// AlertActivity is a human-readable timeline entry attached to an alert
type AlertActivity struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	AlertID   string    `json:"alert_id" db:"alert_id"`
	Kind      string    `json:"kind" db:"kind"`
	Message   string    `json:"message" db:"message"`
	Actor     string    `json:"actor,omitempty" db:"actor"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
