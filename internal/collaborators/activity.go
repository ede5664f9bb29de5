package collaborators

import (
	"context"

	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Activity kinds shown on an alert's timeline
const (
	ActivityAcknowledged = "acknowledged"
	ActivityNotified     = "notified"
	ActivityTriaged      = "triaged"
)

// ActivityStore persists timeline entries
type ActivityStore interface {
	AppendActivity(ctx context.Context, activity *models.AlertActivity) error
}

// ActivityLog appends human-readable entries to alert timelines
type ActivityLog struct {
	store ActivityStore
}

// NewActivityLog creates an activity log over store
func NewActivityLog(store ActivityStore) *ActivityLog {
	return &ActivityLog{store: store}
}

// Append adds one timeline entry
func (l *ActivityLog) Append(ctx context.Context, tenantID, alertID, kind, message, actor string) error {
	return l.store.AppendActivity(ctx, &models.AlertActivity{
		ID:       utils.GenerateID(),
		TenantID: tenantID,
		AlertID:  alertID,
		Kind:     kind,
		Message:  message,
		Actor:    actor,
	})
}
