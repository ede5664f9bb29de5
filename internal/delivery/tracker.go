package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Task names
const (
	TaskCallback = "delivery.callback"
)

// Callback kinds
const (
	KindMessageStatus = "message_status"
	KindVoiceStatus   = "voice_status"
	KindVoiceInput    = "voice_input"
)

// Raw provider statuses recorded for outcomes the relay observed itself
const (
	ProviderStatusAccepted       = "accepted"
	ProviderStatusTransportError = "transport_error"
)

const casAttempts = 3

// Callbacks that beat their dispatch report wait this long for it
const (
	parkTTL   = 10 * time.Minute
	maxParked = 1000
)

// Callback is one provider status or keypress report
type Callback struct {
	TenantID          string
	Kind              string
	ProviderMessageID string
	ProviderStatus    string
	ErrorCode         string
	ErrorMessage      string
	Digits            string
	ReceivedAt        time.Time
}

// Store is the persistence the tracker needs
type Store interface {
	GetNotificationResult(ctx context.Context, tenantID, id string) (*models.NotificationResult, error)
	GetResultByProviderID(ctx context.Context, tenantID, providerMessageID string) (*models.NotificationResult, error)
	AppendDeliveryEvent(ctx context.Context, event *models.NotificationDeliveryEvent) error
	ListDeliveryEvents(ctx context.Context, resultID string) ([]*models.NotificationDeliveryEvent, error)
	CompareAndSetStatus(ctx context.Context, change storage.StatusChange) (bool, error)
}

// IVRAcknowledger receives keypresses from alert calls
type IVRAcknowledger interface {
	AcknowledgeIVR(ctx context.Context, tenantID, callID, digit string) (*ack.Outcome, error)
}

// Emitter publishes domain events
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event)
}

// Submitter enqueues asynchronous work
type Submitter interface {
	Submit(ctx context.Context, task queue.Task) error
}

// Tracker owns NotificationResult.status_current. Every status change,
// whether from a provider callback or from the dispatch itself, goes
// through it.
type Tracker struct {
	store   Store
	acks    IVRAcknowledger
	emitter Emitter
	queue   Submitter
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
	now     func() time.Time

	mu      sync.Mutex
	parked  map[string][]parkedCallback
	nParked int
}

type parkedCallback struct {
	cb       Callback
	parkedAt time.Time
}

func parkKey(tenantID, providerMessageID string) string {
	return tenantID + "|" + providerMessageID
}

// NewTracker creates a delivery event tracker
func NewTracker(store Store, acks IVRAcknowledger, emitter Emitter, q Submitter, m *metrics.PrometheusMetrics) *Tracker {
	return &Tracker{
		store:   store,
		acks:    acks,
		emitter: emitter,
		queue:   q,
		metrics: m,
		logger:  utils.ComponentLogger("delivery"),
		now:     time.Now,
		parked:  make(map[string][]parkedCallback),
	}
}

var _ notification.StatusRecorder = (*Tracker)(nil)

// Enqueue schedules a callback for processing. Callbacks for one provider
// id are processed in arrival order.
func (t *Tracker) Enqueue(ctx context.Context, cb Callback) error {
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = t.now().UTC()
	}
	appended := false
	return t.queue.Submit(ctx, queue.Task{
		Name: TaskCallback,
		Key:  "provider:" + cb.ProviderMessageID,
		Run: func(ctx context.Context) error {
			return t.process(ctx, cb, &appended)
		},
	})
}

// Process applies one callback synchronously
func (t *Tracker) Process(ctx context.Context, cb Callback) error {
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = t.now().UTC()
	}
	appended := false
	return t.process(ctx, cb, &appended)
}

// process appends the callback to the delivery log once, then applies the
// projection. appended survives task retries so the log never doubles.
func (t *Tracker) process(ctx context.Context, cb Callback, appended *bool) error {
	logger := t.logger.WithFields(logrus.Fields{
		"tenant_id":           cb.TenantID,
		"kind":                cb.Kind,
		"provider_message_id": cb.ProviderMessageID,
		"provider_status":     cb.ProviderStatus,
	})
	if cb.ProviderMessageID == "" {
		t.metrics.RecordCallback(cb.Kind, "invalid")
		logger.Warn("Callback without provider id dropped")
		return nil
	}

	if cb.Kind == KindVoiceInput {
		return t.forwardDigits(ctx, cb, logger)
	}

	result, err := t.store.GetResultByProviderID(ctx, cb.TenantID, cb.ProviderMessageID)
	if err != nil {
		return err
	}
	if result == nil {
		result, err = t.park(ctx, cb, logger)
		if err != nil || result == nil {
			return err
		}
	}

	incoming := models.NormalizeProviderStatus(cb.ProviderStatus)
	if !*appended {
		if err := t.store.AppendDeliveryEvent(ctx, &models.NotificationDeliveryEvent{
			NotificationResultID: result.ID,
			Status:               incoming,
			ProviderStatus:       cb.ProviderStatus,
			ErrorCode:            cb.ErrorCode,
			ErrorMessage:         cb.ErrorMessage,
			ReceivedAt:           cb.ReceivedAt,
		}); err != nil {
			return err
		}
		*appended = true
	}

	changed, err := t.advance(ctx, result, incoming, "", cb.ErrorCode, cb.ErrorMessage, cb.ProviderStatus)
	if err != nil {
		return err
	}
	if !changed {
		t.metrics.RecordCallback(cb.Kind, "stale")
		logger.WithField("status_current", result.StatusCurrent).Debug("Callback recorded without status change")
		return nil
	}
	t.metrics.RecordCallback(cb.Kind, "applied")
	return nil
}

// park holds a callback whose provider id is not yet stored, which happens
// when the provider reports before the dispatch outcome is recorded.
// RecordDispatch replays it. The lookup is repeated under the lock so a
// dispatch recorded in between is not missed.
func (t *Tracker) park(ctx context.Context, cb Callback, logger *logrus.Entry) (*models.NotificationResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.store.GetResultByProviderID(ctx, cb.TenantID, cb.ProviderMessageID)
	if err != nil || result != nil {
		return result, err
	}

	now := t.now()
	t.expireParked(now)
	if t.nParked >= maxParked {
		t.metrics.RecordCallback(cb.Kind, "unknown")
		logger.Warn("Callback for unknown provider id dropped")
		return nil, nil
	}
	key := parkKey(cb.TenantID, cb.ProviderMessageID)
	t.parked[key] = append(t.parked[key], parkedCallback{cb: cb, parkedAt: now})
	t.nParked++
	t.metrics.RecordCallback(cb.Kind, "parked")
	logger.Debug("Callback parked until dispatch is recorded")
	return nil, nil
}

// expireParked drops callbacks nobody claimed in time. Callers hold t.mu.
func (t *Tracker) expireParked(now time.Time) {
	for key, waiting := range t.parked {
		kept := waiting[:0]
		for _, p := range waiting {
			if now.Sub(p.parkedAt) < parkTTL {
				kept = append(kept, p)
				continue
			}
			t.nParked--
			t.metrics.RecordCallback(p.cb.Kind, "unknown")
			t.logger.WithFields(logrus.Fields{
				"tenant_id":           p.cb.TenantID,
				"provider_message_id": p.cb.ProviderMessageID,
				"provider_status":     p.cb.ProviderStatus,
			}).Warn("Callback for unknown provider id dropped")
		}
		if len(kept) == 0 {
			delete(t.parked, key)
		} else {
			t.parked[key] = kept
		}
	}
}

// releaseParked requeues callbacks that were waiting for providerMessageID
func (t *Tracker) releaseParked(ctx context.Context, tenantID, providerMessageID string) {
	if providerMessageID == "" {
		return
	}
	key := parkKey(tenantID, providerMessageID)
	t.mu.Lock()
	waiting := t.parked[key]
	delete(t.parked, key)
	t.nParked -= len(waiting)
	t.mu.Unlock()

	for _, p := range waiting {
		if err := t.Enqueue(ctx, p.cb); err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":           tenantID,
				"provider_message_id": providerMessageID,
			}).Error("Failed to replay parked callback")
		}
	}
}

// appendOwnEvent appends a relay-observed event unless one with the same
// provider status is already logged for the result
func (t *Tracker) appendOwnEvent(ctx context.Context, event *models.NotificationDeliveryEvent) error {
	logged, err := t.store.ListDeliveryEvents(ctx, event.NotificationResultID)
	if err != nil {
		return err
	}
	for _, e := range logged {
		if e.ProviderStatus == event.ProviderStatus {
			return nil
		}
	}
	return t.store.AppendDeliveryEvent(ctx, event)
}

func (t *Tracker) forwardDigits(ctx context.Context, cb Callback, logger *logrus.Entry) error {
	if cb.Digits == "" || t.acks == nil {
		t.metrics.RecordCallback(cb.Kind, "ignored")
		return nil
	}
	if _, err := t.acks.AcknowledgeIVR(ctx, cb.TenantID, cb.ProviderMessageID, cb.Digits); err != nil {
		logger.WithError(err).Error("Failed to record IVR acknowledgement")
		return err
	}
	t.metrics.RecordCallback(cb.Kind, "applied")
	return nil
}

// advance moves result towards incoming under the monotonic rule using
// compare-and-set. When another writer wins the race the result is reread
// and the rule applied again. result is updated in place.
func (t *Tracker) advance(ctx context.Context, result *models.NotificationResult, incoming models.DeliveryStatus,
	providerID, errorCode, errorMessage, providerStatus string) (bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		next, changed := models.NextStatus(result.Channel, result.StatusCurrent, incoming)
		if !changed {
			return false, nil
		}

		change := storage.StatusChange{
			TenantID:          result.TenantID,
			ResultID:          result.ID,
			From:              result.StatusCurrent,
			To:                next,
			ProviderMessageID: providerID,
		}
		if next == models.DeliveryStatusFailed {
			change.ErrorCode, change.ErrorMessage = errorCode, errorMessage
		}
		ok, err := t.store.CompareAndSetStatus(ctx, change)
		if err != nil {
			return false, err
		}
		if ok {
			previous := result.StatusCurrent
			result.StatusCurrent = next
			if providerID != "" {
				result.ProviderMessageID = providerID
			}
			t.onTransition(ctx, result, previous, providerStatus, change)
			return true, nil
		}

		fresh, err := t.store.GetNotificationResult(ctx, result.TenantID, result.ID)
		if err != nil {
			return false, err
		}
		if fresh == nil {
			return false, nil
		}
		*result = *fresh
	}
	return false, fmt.Errorf("status of result %s kept changing, giving up after %d attempts", result.ID, casAttempts)
}

func (t *Tracker) onTransition(ctx context.Context, result *models.NotificationResult, previous models.DeliveryStatus,
	providerStatus string, change storage.StatusChange) {
	t.metrics.RecordStatusTransition(string(result.Channel), string(result.StatusCurrent))

	eventType := eventFor(result.StatusCurrent)
	if eventType == "" {
		return
	}
	payload := map[string]interface{}{
		"alert_id":            result.AlertID,
		"channel":             string(result.Channel),
		"recipient_role":      result.RecipientRole,
		"provider_message_id": result.ProviderMessageID,
		"provider_status":     providerStatus,
		"from":                string(previous),
		"to":                  string(result.StatusCurrent),
	}
	if change.ErrorCode != "" || change.ErrorMessage != "" {
		payload["error_code"] = change.ErrorCode
		payload["error_message"] = change.ErrorMessage
	}

	actor := models.ActorProvider
	if providerStatus == ProviderStatusAccepted || providerStatus == ProviderStatusTransportError {
		actor = models.ActorSystem
	}
	t.emitter.Emit(ctx, audit.Event{
		TenantID:   result.TenantID,
		EntityType: models.EntityNotification,
		EntityID:   result.ID,
		EventType:  eventType,
		Payload:    payload,
		ActorType:  actor,
	})
}

func eventFor(status models.DeliveryStatus) string {
	switch status {
	case models.DeliveryStatusSent:
		return models.EventNotificationSent
	case models.DeliveryStatusDelivered:
		return models.EventNotificationDelivered
	case models.DeliveryStatusRead:
		return models.EventNotificationRead
	case models.DeliveryStatusFailed:
		return models.EventNotificationFailed
	}
	return ""
}

// RecordDispatch marks a queued result as sent and stores the provider's id.
// Calling it again for the same result is a no-op.
func (t *Tracker) RecordDispatch(ctx context.Context, tenantID, resultID, providerMessageID string) error {
	result, err := t.loadQueued(ctx, tenantID, resultID)
	if err != nil || result == nil {
		return err
	}
	if err := t.appendOwnEvent(ctx, &models.NotificationDeliveryEvent{
		NotificationResultID: result.ID,
		Status:               models.DeliveryStatusSent,
		ProviderStatus:       ProviderStatusAccepted,
		ReceivedAt:           t.now().UTC(),
	}); err != nil {
		return err
	}
	if _, err := t.advance(ctx, result, models.DeliveryStatusSent, providerMessageID, "", "", ProviderStatusAccepted); err != nil {
		return err
	}
	t.releaseParked(ctx, tenantID, providerMessageID)
	return nil
}

// RecordTransportFailure marks a queued result as failed with the
// transport's error detail
func (t *Tracker) RecordTransportFailure(ctx context.Context, tenantID, resultID string, cause error) error {
	result, err := t.loadQueued(ctx, tenantID, resultID)
	if err != nil || result == nil {
		return err
	}
	te := notification.AsTransportError(cause)
	if err := t.appendOwnEvent(ctx, &models.NotificationDeliveryEvent{
		NotificationResultID: result.ID,
		Status:               models.DeliveryStatusFailed,
		ProviderStatus:       ProviderStatusTransportError,
		ErrorCode:            te.Code,
		ErrorMessage:         te.Message,
		ReceivedAt:           t.now().UTC(),
	}); err != nil {
		return err
	}
	_, err = t.advance(ctx, result, models.DeliveryStatusFailed, "", te.Code, te.Message, ProviderStatusTransportError)
	return err
}

// loadQueued returns the result only while it is still queued
func (t *Tracker) loadQueued(ctx context.Context, tenantID, resultID string) (*models.NotificationResult, error) {
	result, err := t.store.GetNotificationResult(ctx, tenantID, resultID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		t.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"result_id": resultID,
		}).Warn("Dispatch outcome for unknown result ignored")
		return nil, nil
	}
	if result.StatusCurrent != models.DeliveryStatusQueued && result.StatusCurrent != "" {
		return nil, nil
	}
	return result, nil
}
