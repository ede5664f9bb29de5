package processor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// TaskPipelineEvaluate is the queue task name for AI triage
const TaskPipelineEvaluate = "pipeline.evaluate"

// Notifier dispatches notifications for an alert
type Notifier interface {
	Dispatch(ctx context.Context, req notification.DispatchRequest) ([]*models.NotificationResult, error)
}

// Emitter publishes domain events
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event)
}

// Submitter enqueues asynchronous work
type Submitter interface {
	Submit(ctx context.Context, task queue.Task) error
}

// Timeline appends alert activity entries
type Timeline interface {
	Append(ctx context.Context, tenantID, alertID, kind, message, actor string) error
}

// Triage hands alerts to the AI pipeline and applies its verdict. It owns
// the alert status for every alert it evaluates.
type Triage struct {
	store    Store
	pipeline collaborators.Pipeline
	notifier Notifier
	timeline Timeline
	emitter  Emitter
	queue    Submitter
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry
}

// NewTriage creates the AI pipeline dispatcher. A nil pipeline leaves
// alerts pending.
func NewTriage(store Store, pipeline collaborators.Pipeline, notifier Notifier, timeline Timeline,
	emitter Emitter, q Submitter, m *metrics.PrometheusMetrics) *Triage {
	return &Triage{
		store:    store,
		pipeline: pipeline,
		notifier: notifier,
		timeline: timeline,
		emitter:  emitter,
		queue:    q,
		metrics:  m,
		logger:   utils.ComponentLogger("triage"),
	}
}

// Enqueue schedules AI evaluation of a freshly created alert
func (tr *Triage) Enqueue(ctx context.Context, alert *models.Alert, signal *models.Signal) error {
	if tr.pipeline == nil {
		tr.metrics.RecordPipelineRun("disabled")
		tr.logger.WithField("alert_id", alert.ID).Warn("AI pipeline disabled, alert left pending")
		return nil
	}
	// the task works on its own copy; callers keep using theirs
	owned := *alert
	return tr.queue.Submit(ctx, queue.Task{
		Name: TaskPipelineEvaluate,
		Key:  "alert:" + owned.ID,
		Run: func(ctx context.Context) error {
			return tr.evaluate(ctx, &owned, signal)
		},
		OnDeadLetter: func(ctx context.Context, err error) {
			tr.fail(ctx, &owned, err)
		},
	})
}

func (tr *Triage) evaluate(ctx context.Context, alert *models.Alert, signal *models.Signal) error {
	logger := tr.logger.WithFields(logrus.Fields{
		"tenant_id": alert.TenantID,
		"alert_id":  alert.ID,
	})

	if alert.Status != models.AlertStatusProcessing {
		if err := setAlertStatus(ctx, tr.store, alert, models.AlertStatusProcessing); err != nil {
			return err
		}
	}

	verdict, err := tr.pipeline.Evaluate(ctx, alert, signal)
	if err != nil {
		tr.metrics.RecordPipelineRun("error")
		logger.WithError(err).Warn("AI pipeline evaluation failed")
		return err
	}

	completed := models.AlertStatusCompleted
	update := models.AlertUpdate{
		Status:  &completed,
		Verdict: &verdict.Verdict,
		Message: &verdict.Message,
	}
	if verdict.Severity != "" {
		update.Severity = &verdict.Severity
	}
	if err := tr.store.UpdateAlert(ctx, alert.TenantID, alert.ID, update); err != nil {
		return err
	}
	alert.Status = completed
	alert.Verdict, alert.Message = verdict.Verdict, verdict.Message
	if verdict.Severity != "" {
		alert.Severity = verdict.Severity
	}
	tr.metrics.RecordPipelineRun("completed")

	if err := tr.timeline.Append(ctx, alert.TenantID, alert.ID, collaborators.ActivityTriaged,
		fmt.Sprintf("AI verdict: %s", verdict.Verdict), models.ActorSystem); err != nil {
		logger.WithError(err).Error("Failed to append activity entry")
	}
	tr.emitter.Emit(ctx, audit.Event{
		TenantID:   alert.TenantID,
		EntityType: models.EntityAlert,
		EntityID:   alert.ID,
		EventType:  models.EventAlertCompleted,
		Payload: map[string]interface{}{
			"verdict":  verdict.Verdict,
			"severity": string(alert.Severity),
			"notify":   verdict.Notify,
		},
	})

	if verdict.Notify && tr.notifier != nil {
		results, err := tr.notifier.Dispatch(ctx, notification.DispatchRequest{
			TenantID:  alert.TenantID,
			Alert:     alert,
			Signal:    signal,
			Message:   verdict.Message,
			DedupeKey: utils.DedupeKey(string(models.ActionAIPipeline), alert.TenantID, alert.ExternalEventID),
		})
		if err != nil {
			// the verdict stands; notification trouble is recorded on the results
			logger.WithError(err).Error("Failed to dispatch notifications for verdict")
		} else if len(results) > 0 {
			if err := tr.timeline.Append(ctx, alert.TenantID, alert.ID, collaborators.ActivityNotified,
				fmt.Sprintf("Notified %d recipient(s)", len(results)), models.ActorSystem); err != nil {
				logger.WithError(err).Error("Failed to append activity entry")
			}
		}
	}

	logger.WithField("verdict", verdict.Verdict).Info("Alert triaged")
	return nil
}

// fail marks an alert failed once its evaluation has been given up on
func (tr *Triage) fail(ctx context.Context, alert *models.Alert, cause error) {
	tr.metrics.RecordPipelineRun("failed")
	if err := setAlertStatus(ctx, tr.store, alert, models.AlertStatusFailed); err != nil {
		tr.logger.WithError(err).WithField("alert_id", alert.ID).Error("Failed to mark alert failed")
		return
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	tr.emitter.Emit(ctx, audit.Event{
		TenantID:   alert.TenantID,
		EntityType: models.EntityAlert,
		EntityID:   alert.ID,
		EventType:  models.EventAlertFailed,
		Payload:    map[string]interface{}{"reason": reason},
	})
}
