// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// Storage defines the persistence operations of the relay
type Storage interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Signal and alert operations
	CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) (bool, error)
	GetSignal(ctx context.Context, tenantID, id string) (*models.Signal, error)
	GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error)
	GetAlertByExternalID(ctx context.Context, tenantID, externalEventID string) (*models.Alert, error)
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error)
	UpdateAlert(ctx context.Context, tenantID, id string, update models.AlertUpdate) error

	// Notification result operations
	CreateNotificationResult(ctx context.Context, result *models.NotificationResult) error
	GetNotificationResult(ctx context.Context, tenantID, id string) (*models.NotificationResult, error)
	GetResultByProviderID(ctx context.Context, tenantID, providerMessageID string) (*models.NotificationResult, error)
	ListResultsForAlert(ctx context.Context, tenantID, alertID string) ([]*models.NotificationResult, error)
	RecentResultsByDestination(ctx context.Context, tenantID, destination string, since time.Time) ([]*models.NotificationResult, error)
	CompareAndSetStatus(ctx context.Context, change StatusChange) (bool, error)

	// Delivery event log
	AppendDeliveryEvent(ctx context.Context, event *models.NotificationDeliveryEvent) error
	ListDeliveryEvents(ctx context.Context, resultID string) ([]*models.NotificationDeliveryEvent, error)

	// Acknowledgements
	InsertAck(ctx context.Context, ack *models.NotificationAck) (bool, error)
	ListAcks(ctx context.Context, tenantID, alertID string) ([]*models.NotificationAck, error)

	// Audit ledger and timeline
	SaveDomainEvent(ctx context.Context, event *models.DomainEvent) error
	ListDomainEvents(ctx context.Context, filter models.DomainEventFilter) ([]*models.DomainEvent, error)
	AppendActivity(ctx context.Context, activity *models.AlertActivity) error
	ListActivities(ctx context.Context, tenantID, alertID string) ([]*models.AlertActivity, error)

	// Statistics and monitoring
	GetStorageStats(ctx context.Context) (*StorageStats, error)
}

// StatusChange is a compare-and-set on a result's status_current. The
// update applies only while the stored status still equals From.
type StatusChange struct {
	TenantID          string
	ResultID          string
	From              models.DeliveryStatus
	To                models.DeliveryStatus
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// StorageStats provides storage statistics
type StorageStats struct {
	TotalSignals        int64 `json:"total_signals"`
	TotalAlerts         int64 `json:"total_alerts"`
	TotalNotifications  int64 `json:"total_notifications"`
	TotalDeliveryEvents int64 `json:"total_delivery_events"`
	TotalAcks           int64 `json:"total_acks"`
	TotalDomainEvents   int64 `json:"total_domain_events"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
