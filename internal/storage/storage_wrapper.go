package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
)

// StorageWithMetrics wraps a storage implementation with metrics on the
// write paths of the pipeline
type StorageWithMetrics struct {
	Storage
	metrics *metrics.PrometheusMetrics
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(storage Storage, m *metrics.PrometheusMetrics) *StorageWithMetrics {
	return &StorageWithMetrics{
		Storage: storage,
		metrics: m,
	}
}

func (s *StorageWithMetrics) record(operation, table string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordDatabaseOperation(operation, table, status, time.Since(start))
}

// CreateSignalAndAlert records metrics around the signal and alert insert
func (s *StorageWithMetrics) CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) (bool, error) {
	start := time.Now()
	created, err := s.Storage.CreateSignalAndAlert(ctx, signal, alert)
	s.record("insert", "alerts", start, err)
	return created, err
}

// UpdateAlert records metrics around an alert update
func (s *StorageWithMetrics) UpdateAlert(ctx context.Context, tenantID, id string, update models.AlertUpdate) error {
	start := time.Now()
	err := s.Storage.UpdateAlert(ctx, tenantID, id, update)
	s.record("update", "alerts", start, err)
	return err
}

// CreateNotificationResult records metrics around a result insert
func (s *StorageWithMetrics) CreateNotificationResult(ctx context.Context, result *models.NotificationResult) error {
	start := time.Now()
	err := s.Storage.CreateNotificationResult(ctx, result)
	s.record("insert", "notification_results", start, err)
	return err
}

// CompareAndSetStatus records metrics around a status projection update
func (s *StorageWithMetrics) CompareAndSetStatus(ctx context.Context, change StatusChange) (bool, error) {
	start := time.Now()
	ok, err := s.Storage.CompareAndSetStatus(ctx, change)
	s.record("update", "notification_results", start, err)
	return ok, err
}

// AppendDeliveryEvent records metrics around a delivery log append
func (s *StorageWithMetrics) AppendDeliveryEvent(ctx context.Context, event *models.NotificationDeliveryEvent) error {
	start := time.Now()
	err := s.Storage.AppendDeliveryEvent(ctx, event)
	s.record("insert", "notification_delivery_events", start, err)
	return err
}

// InsertAck records metrics around an acknowledgement insert
func (s *StorageWithMetrics) InsertAck(ctx context.Context, ack *models.NotificationAck) (bool, error) {
	start := time.Now()
	inserted, err := s.Storage.InsertAck(ctx, ack)
	s.record("insert", "notification_acks", start, err)
	return inserted, err
}

// SaveDomainEvent records metrics around an audit ledger write
func (s *StorageWithMetrics) SaveDomainEvent(ctx context.Context, event *models.DomainEvent) error {
	start := time.Now()
	err := s.Storage.SaveDomainEvent(ctx, event)
	s.record("insert", "domain_events", start, err)
	return err
}
