// File: internal/processor/storage_adapter.go
package processor

import (
	"context"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
)

// Store is the slice of storage the rule engine and the triage task use
type Store interface {
	CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) (bool, error)
	GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error)
	UpdateAlert(ctx context.Context, tenantID, id string, update models.AlertUpdate) error
}

var _ Store = (storage.Storage)(nil)

// setAlertStatus updates only the status of an alert
func setAlertStatus(ctx context.Context, store Store, alert *models.Alert, status models.AlertStatus) error {
	if err := store.UpdateAlert(ctx, alert.TenantID, alert.ID, models.AlertUpdate{Status: &status}); err != nil {
		return err
	}
	alert.Status = status
	return nil
}
