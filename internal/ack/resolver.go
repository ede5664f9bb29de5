package ack

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Outcome messages
const (
	MessageAcknowledged     = "Alert acknowledged"
	MessageAlreadyConfirmed = "Alert already confirmed"
	MessageNotFound         = "Alert not found"
)

// DefaultReplyWindow bounds how old a notification may be for a free-text
// reply to count as an acknowledgement of it.
const DefaultReplyWindow = 24 * time.Hour

// Outcome is the result of one acknowledgement attempt
type Outcome struct {
	Success          bool                    `json:"success"`
	AlreadyConfirmed bool                    `json:"already_confirmed,omitempty"`
	Message          string                  `json:"message"`
	Ack              *models.NotificationAck `json:"ack,omitempty"`
}

// Store is the persistence the resolver needs
type Store interface {
	GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error)
	GetResultByProviderID(ctx context.Context, tenantID, providerMessageID string) (*models.NotificationResult, error)
	RecentResultsByDestination(ctx context.Context, tenantID, destination string, since time.Time) ([]*models.NotificationResult, error)
	InsertAck(ctx context.Context, ack *models.NotificationAck) (bool, error)
}

// Timeline appends alert activity entries
type Timeline interface {
	Append(ctx context.Context, tenantID, alertID, kind, message, actor string) error
}

// Emitter publishes domain events
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event)
}

var _ Timeline = (*collaborators.ActivityLog)(nil)

// Resolver reconciles acknowledgements arriving from the UI, IVR keypresses
// and free-text replies into at most one ui ack per alert.
type Resolver struct {
	store       Store
	timeline    Timeline
	emitter     Emitter
	metrics     *metrics.PrometheusMetrics
	logger      *logrus.Entry
	replyWindow time.Duration
	now         func() time.Time
}

// NewResolver creates a resolver. A zero replyWindow means DefaultReplyWindow.
func NewResolver(store Store, timeline Timeline, emitter Emitter, m *metrics.PrometheusMetrics, replyWindow time.Duration) *Resolver {
	if replyWindow <= 0 {
		replyWindow = DefaultReplyWindow
	}
	return &Resolver{
		store:       store,
		timeline:    timeline,
		emitter:     emitter,
		metrics:     m,
		logger:      utils.ComponentLogger("ack"),
		replyWindow: replyWindow,
		now:         time.Now,
	}
}

// AcknowledgeUI records a console confirmation. The first one wins; later
// ones report AlreadyConfirmed and change nothing. Alerts of other tenants
// are not found.
func (r *Resolver) AcknowledgeUI(ctx context.Context, tenantID, alertID, actor string) (*Outcome, error) {
	alert, err := r.store.GetAlert(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		r.metrics.RecordAck(string(models.AckTypeUI), "not_found")
		return nil, utils.NewAppError(utils.ErrCodeNotFound, MessageNotFound, alertID)
	}

	ack := r.newAck(tenantID, alertID, "", models.AckTypeUI, map[string]interface{}{"actor": actor})
	inserted, err := r.store.InsertAck(ctx, ack)
	if err != nil {
		return nil, err
	}
	if !inserted {
		r.metrics.RecordAck(string(models.AckTypeUI), "duplicate")
		return &Outcome{Success: true, AlreadyConfirmed: true, Message: MessageAlreadyConfirmed}, nil
	}

	r.afterAck(ctx, ack, models.ActorUser, actor, fmt.Sprintf("Acknowledged in console by %s", orSystem(actor)))
	return &Outcome{Success: true, Message: MessageAcknowledged, Ack: ack}, nil
}

// AcknowledgeIVR records a keypress on an outbound alert call. Calls the
// tenant never placed are dropped.
func (r *Resolver) AcknowledgeIVR(ctx context.Context, tenantID, callID, digit string) (*Outcome, error) {
	result, err := r.store.GetResultByProviderID(ctx, tenantID, callID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		r.metrics.RecordAck(string(models.AckTypeIVR), "unknown_call")
		r.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"call_id":   callID,
		}).Warn("IVR input for unknown call dropped")
		return &Outcome{Message: "Unknown call"}, nil
	}

	meaning := models.IVRMeaning(digit)
	ack := r.newAck(tenantID, result.AlertID, result.ID, models.AckTypeIVR, map[string]interface{}{
		"digit":   digit,
		"meaning": meaning,
		"call_id": callID,
	})
	if _, err := r.store.InsertAck(ctx, ack); err != nil {
		return nil, err
	}

	r.afterAck(ctx, ack, models.ActorProvider, result.RecipientRole,
		fmt.Sprintf("IVR response from %s: %s", orSystem(result.RecipientRole), strings.ReplaceAll(meaning, "_", " ")))
	return &Outcome{Success: true, Message: MessageAcknowledged, Ack: ack}, nil
}

// AcknowledgeReply matches an inbound message to the newest message
// notification sent to that number within the reply window. Replies that
// match nothing are dropped.
func (r *Resolver) AcknowledgeReply(ctx context.Context, tenantID, from, body string) (*Outcome, error) {
	since := r.now().UTC().Add(-r.replyWindow)
	results, err := r.store.RecentResultsByDestination(ctx, tenantID, from, since)
	if err != nil {
		return nil, err
	}

	var matched *models.NotificationResult
	for _, res := range results {
		if res.Channel == models.ChannelSMS || res.Channel == models.ChannelWhatsApp {
			matched = res
			break
		}
	}
	if matched == nil {
		r.metrics.RecordAck(string(models.AckTypeReply), "unmatched")
		r.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"from":      maskTail(from),
		}).Debug("Inbound reply matched no recent notification")
		return &Outcome{Message: "No recent notification"}, nil
	}

	ack := r.newAck(tenantID, matched.AlertID, matched.ID, models.AckTypeReply, map[string]interface{}{
		"from": from,
		"body": body,
	})
	if _, err := r.store.InsertAck(ctx, ack); err != nil {
		return nil, err
	}

	r.afterAck(ctx, ack, models.ActorProvider, matched.RecipientRole,
		fmt.Sprintf("Reply from %s: %s", orSystem(matched.RecipientRole), strings.TrimSpace(body)))
	return &Outcome{Success: true, Message: MessageAcknowledged, Ack: ack}, nil
}

func (r *Resolver) newAck(tenantID, alertID, resultID string, ackType models.AckType, payload map[string]interface{}) *models.NotificationAck {
	return &models.NotificationAck{
		ID:                   utils.GenerateID(),
		TenantID:             tenantID,
		AlertID:              alertID,
		NotificationResultID: resultID,
		AckType:              ackType,
		Payload:              payload,
		CreatedAt:            r.now().UTC(),
	}
}

// afterAck writes the timeline entry and the domain event for a stored ack.
// Neither undoes the ack when it fails.
func (r *Resolver) afterAck(ctx context.Context, ack *models.NotificationAck, actorType, actor, message string) {
	r.metrics.RecordAck(string(ack.AckType), "accepted")

	if err := r.timeline.Append(ctx, ack.TenantID, ack.AlertID, collaborators.ActivityAcknowledged, message, actor); err != nil {
		r.logger.WithError(err).WithField("alert_id", ack.AlertID).Error("Failed to append activity entry")
	}

	payload := map[string]interface{}{
		"ack_id":   ack.ID,
		"ack_type": string(ack.AckType),
	}
	if ack.NotificationResultID != "" {
		payload["notification_result_id"] = ack.NotificationResultID
	}
	for k, v := range ack.Payload {
		payload[k] = v
	}
	r.emitter.Emit(ctx, audit.Event{
		TenantID:   ack.TenantID,
		EntityType: models.EntityAlert,
		EntityID:   ack.AlertID,
		EventType:  models.EventAlertAcknowledged,
		Payload:    payload,
		ActorType:  actorType,
	})

	r.logger.WithFields(logrus.Fields{
		"tenant_id": ack.TenantID,
		"alert_id":  ack.AlertID,
		"ack_type":  ack.AckType,
	}).Info("Alert acknowledged")
}

func orSystem(s string) string {
	if s == "" {
		return models.ActorSystem
	}
	return s
}

func maskTail(s string) string {
	if len(s) <= 4 {
		return s
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
