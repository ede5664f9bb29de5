package models

import "time"

// Entity types recorded in the audit ledger
const (
	EntityAlert        = "alert"
	EntitySignal       = "signal"
	EntityNotification = "notification_result"
	EntityAck          = "notification_ack"
)

// Actor types
const (
	ActorSystem   = "system"
	ActorUser     = "user"
	ActorProvider = "provider"
)

// Domain event types
const (
	EventAlertCreated          = "alert.created"
	EventAlertCompleted        = "alert.completed"
	EventAlertFailed           = "alert.failed"
	EventAlertAcknowledged     = "alert.acknowledged"
	EventNotificationSent      = "notification.sent"
	EventNotificationDelivered = "notification.delivered"
	EventNotificationRead      = "notification.read"
	EventNotificationFailed    = "notification.failed"
)

// DomainEvent is one append-only audit ledger entry
type DomainEvent struct {
	ID            string                 `json:"id" db:"id"`
	TenantID      string                 `json:"tenant_id" db:"tenant_id"`
	EntityType    string                 `json:"entity_type" db:"entity_type"`
	EntityID      string                 `json:"entity_id" db:"entity_id"`
	EventType     string                 `json:"event_type" db:"event_type"`
	Payload       map[string]interface{} `json:"payload,omitempty" db:"payload"`
	ActorType     string                 `json:"actor_type" db:"actor_type"`
	TraceID       string                 `json:"trace_id" db:"trace_id"`
	CorrelationID string                 `json:"correlation_id" db:"correlation_id"`
	OccurredAt    time.Time              `json:"occurred_at" db:"occurred_at"`
}

// DomainEventFilter for querying the ledger
type DomainEventFilter struct {
	TenantID   string `json:"tenant_id"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	EventType  string `json:"event_type,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
