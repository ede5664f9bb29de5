// File: internal/notification/engine.go
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/cache"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Task names
const (
	TaskSend        = "notification.send"
	TaskAlertStatus = "notification.alert_status"
)

// DispatchRequest asks the engine to notify people about one alert
type DispatchRequest struct {
	TenantID string
	Alert    *models.Alert
	Signal   *models.Signal
	// Rule overrides the escalation matrix for whichever of channels and
	// roles it sets.
	Rule *models.Rule
	// Message is sent as is when set; otherwise the rule's template (or the
	// default) is rendered from Signal.
	Message   string
	DedupeKey string
}

// StatusRecorder applies dispatch outcomes to a result's status
type StatusRecorder interface {
	RecordDispatch(ctx context.Context, tenantID, resultID, providerMessageID string) error
	RecordTransportFailure(ctx context.Context, tenantID, resultID string, cause error) error
}

// Store is the persistence the engine needs
type Store interface {
	CreateNotificationResult(ctx context.Context, result *models.NotificationResult) error
	GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error)
	UpdateAlert(ctx context.Context, tenantID, id string, update models.AlertUpdate) error
}

// Tenants is the per-tenant configuration the engine reads
type Tenants interface {
	ActiveCredentials(tenantID string) (tenant.Credentials, bool)
	EscalationFor(tenantID string, severity models.Severity) (tenant.EscalationStep, bool)
}

// Submitter enqueues asynchronous work
type Submitter interface {
	Submit(ctx context.Context, task queue.Task) error
}

// Options tunes dispatch
type Options struct {
	DedupeTTL       time.Duration
	MaxRecipients   int
	DefaultTemplate string
}

// Engine is the notification escalation engine
type Engine struct {
	store     Store
	tenants   Tenants
	contacts  collaborators.ContactResolver
	dedupe    cache.DedupeStore
	transport Transport
	recorder  StatusRecorder
	queue     Submitter
	metrics   *metrics.PrometheusMetrics
	logger    *DispatchLogger
	opts      Options
}

// NewEngine creates an escalation engine
func NewEngine(store Store, tenants Tenants, contacts collaborators.ContactResolver, dedupe cache.DedupeStore,
	transport Transport, recorder StatusRecorder, q Submitter, m *metrics.PrometheusMetrics, opts Options) *Engine {
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = 50
	}
	if opts.DefaultTemplate == "" {
		opts.DefaultTemplate = DefaultTemplate
	}
	return &Engine{
		store:     store,
		tenants:   tenants,
		contacts:  contacts,
		dedupe:    dedupe,
		transport: transport,
		recorder:  recorder,
		queue:     q,
		metrics:   m,
		logger:    NewDispatchLogger("escalation"),
		opts:      opts,
	}
}

type target struct {
	channel models.Channel
	role    string
	address string
}

// Dispatch creates one queued NotificationResult per (channel, recipient)
// and enqueues the transport sends. A dispatch whose dedupe key was already
// claimed, or whose tenant lacks credentials, escalation or contacts,
// returns no results and no error.
func (e *Engine) Dispatch(ctx context.Context, req DispatchRequest) ([]*models.NotificationResult, error) {
	if req.Alert == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Dispatch requires an alert")
	}
	if req.TenantID == "" {
		req.TenantID = req.Alert.TenantID
	}
	logger := e.logger.Entry().WithFields(logrus.Fields{
		"tenant_id": req.TenantID,
		"alert_id":  req.Alert.ID,
	})

	if req.DedupeKey != "" {
		claimed, err := e.dedupe.Claim(ctx, req.DedupeKey, e.opts.DedupeTTL)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeExternal, "Failed to claim dedupe key", err.Error())
		}
		if !claimed {
			e.metrics.RecordDedupeHit()
			e.logger.LogDedupeHit(req.TenantID, req.Alert.ID, req.DedupeKey)
			return nil, nil
		}
	}

	results, err := e.dispatch(ctx, req, logger)
	if err != nil && len(results) == 0 && req.DedupeKey != "" {
		// nothing was created, let a later attempt claim the key again
		if relErr := e.dedupe.Release(ctx, req.DedupeKey); relErr != nil {
			logger.WithError(relErr).Warn("Failed to release dedupe key")
		}
	}
	if err != nil && utils.ErrorCode(err) == utils.ErrCodeConfiguration {
		logger.WithError(err).Warn("Dispatch skipped, tenant configuration incomplete")
		return nil, nil
	}
	return results, err
}

func (e *Engine) dispatch(ctx context.Context, req DispatchRequest, logger *logrus.Entry) ([]*models.NotificationResult, error) {
	creds, ok := e.tenants.ActiveCredentials(req.TenantID)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "No active provider credentials", req.TenantID)
	}

	targets, err := e.resolveTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "No recipients resolved", req.TenantID)
	}

	body := req.Message
	if body == "" {
		tmpl := e.opts.DefaultTemplate
		if req.Rule != nil && req.Rule.MessageTemplate != "" {
			tmpl = req.Rule.MessageTemplate
		}
		body = Render(tmpl, TemplateDataFromSignal(req.Signal))
	}

	results := make([]*models.NotificationResult, 0, len(targets))
	for _, tgt := range targets {
		now := time.Now().UTC()
		result := &models.NotificationResult{
			ID:            utils.GenerateID(),
			TenantID:      req.TenantID,
			AlertID:       req.Alert.ID,
			Channel:       tgt.channel,
			RecipientRole: tgt.role,
			Destination:   tgt.address,
			StatusCurrent: models.DeliveryStatusQueued,
			DispatchedAt:  now,
			UpdatedAt:     now,
		}
		if err := e.store.CreateNotificationResult(ctx, result); err != nil {
			return results, fmt.Errorf("failed to create notification result: %w", err)
		}
		results = append(results, result)

		msg := &Message{
			TenantID:    req.TenantID,
			AlertID:     req.Alert.ID,
			ResultID:    result.ID,
			Channel:     tgt.channel,
			To:          tgt.address,
			Body:        body,
			Credentials: creds,
		}
		if err := e.queue.Submit(ctx, e.sendTask(msg)); err != nil {
			// the send never happens, record it as a transport failure
			logger.WithError(err).WithField("result_id", result.ID).Error("Failed to enqueue notification send")
			if recErr := e.recorder.RecordTransportFailure(ctx, req.TenantID, result.ID, err); recErr != nil {
				logger.WithError(recErr).Error("Failed to record enqueue failure")
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"results": len(results),
		"rule":    ruleName(req.Rule),
	}).Info("Notifications dispatched")
	return results, nil
}

// resolveTargets expands roles and channels into destinations. The rule's
// channels and roles win; whichever it leaves empty comes from the
// escalation matrix for the alert severity.
func (e *Engine) resolveTargets(ctx context.Context, req DispatchRequest) ([]target, error) {
	var roles []string
	var channels []models.Channel
	if req.Rule != nil {
		roles, channels = req.Rule.Roles, req.Rule.Channels
	}
	if len(roles) == 0 || len(channels) == 0 {
		step, ok := e.tenants.EscalationFor(req.TenantID, req.Alert.Severity)
		if !ok {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "No escalation configured", fmt.Sprintf("%s/%s", req.TenantID, req.Alert.Severity))
		}
		if len(roles) == 0 {
			roles = step.Roles
		}
		if len(channels) == 0 {
			channels = step.Channels
		}
	}

	seen := make(map[string]bool)
	var targets []target
	for _, role := range roles {
		contacts, err := e.contacts.Resolve(ctx, req.TenantID, role)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeExternal, "Failed to resolve contacts", err.Error())
		}
		for _, ch := range channels {
			for _, c := range contacts {
				if c.Channel != "" && c.Channel != ch {
					continue
				}
				key := string(ch) + "|" + utils.NormalizeAddress(c.Address)
				if seen[key] || c.Address == "" {
					continue
				}
				seen[key] = true
				targets = append(targets, target{channel: ch, role: strings.ToLower(role), address: c.Address})
				if len(targets) >= e.opts.MaxRecipients {
					return targets, nil
				}
			}
		}
	}
	return targets, nil
}

// sendTask sends once. Retries only re-apply the recorded outcome, so a
// failing status write never sends the message twice.
func (e *Engine) sendTask(msg *Message) queue.Task {
	attempted := false
	var providerID string
	var sendErr error

	return queue.Task{
		Name: TaskSend,
		Key:  msg.ResultID,
		Run: func(ctx context.Context) error {
			if !attempted {
				attempted = true
				providerID, sendErr = e.transport.Send(ctx, msg)
			}
			if sendErr != nil {
				if err := e.recorder.RecordTransportFailure(ctx, msg.TenantID, msg.ResultID, sendErr); err != nil {
					return err
				}
				return e.enqueueAlertStatus(ctx, msg, models.AlertNotificationFailed)
			}
			if err := e.recorder.RecordDispatch(ctx, msg.TenantID, msg.ResultID, providerID); err != nil {
				return err
			}
			return e.enqueueAlertStatus(ctx, msg, models.AlertNotificationSent)
		},
	}
}

// enqueueAlertStatus rolls a send outcome up into the alert's notification
// status. Updates for one alert run serially; sent is never downgraded.
func (e *Engine) enqueueAlertStatus(ctx context.Context, msg *Message, status string) error {
	return e.queue.Submit(ctx, queue.Task{
		Name: TaskAlertStatus,
		Key:  "alert:" + msg.AlertID,
		Run: func(ctx context.Context) error {
			if status == models.AlertNotificationFailed {
				alert, err := e.store.GetAlert(ctx, msg.TenantID, msg.AlertID)
				if err != nil {
					return err
				}
				if alert == nil || alert.NotificationStatus == models.AlertNotificationSent {
					return nil
				}
			}
			return e.store.UpdateAlert(ctx, msg.TenantID, msg.AlertID, models.AlertUpdate{NotificationStatus: &status})
		},
	})
}

func ruleName(rule *models.Rule) string {
	if rule == nil {
		return ""
	}
	return rule.Name
}
