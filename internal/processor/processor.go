// File: internal/processor/processor.go
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Outcome reports what the rule engine did with one event
type Outcome struct {
	TenantID        string                       `json:"tenant_id"`
	ExternalEventID string                       `json:"external_event_id"`
	Gate            string                       `json:"gate,omitempty"`
	Duplicate       bool                         `json:"duplicate,omitempty"`
	Rule            string                       `json:"rule,omitempty"`
	Action          models.RuleAction            `json:"action,omitempty"`
	Alert           *models.Alert                `json:"alert,omitempty"`
	Results         []*models.NotificationResult `json:"results,omitempty"`
	Duration        time.Duration                `json:"duration"`
}

// Processed reports whether the event produced an alert
func (o *Outcome) Processed() bool {
	return o.Gate == "" && !o.Duplicate && o.Alert != nil
}

// Engine is the rule engine for behavior-labelled stream events
type Engine struct {
	store    Store
	router   *RuleRouter
	triage   *Triage
	notifier Notifier
	emitter  Emitter
	metrics  *metrics.PrometheusMetrics
	logger   *logrus.Entry

	validator       *EventValidator
	transformer     *EventTransformer
	defaultTemplate string

	mu    sync.Mutex
	stats *EngineStats
}

// NewEngine creates a rule engine
func NewEngine(store Store, tenants Tenants, triage *Triage, notifier Notifier, emitter Emitter,
	m *metrics.PrometheusMetrics, defaultTemplate string) *Engine {
	if defaultTemplate == "" {
		defaultTemplate = notification.DefaultTemplate
	}
	return &Engine{
		store:           store,
		router:          NewRuleRouter(tenants),
		triage:          triage,
		notifier:        notifier,
		emitter:         emitter,
		metrics:         m,
		logger:          utils.ComponentLogger("rule_engine"),
		validator:       NewEventValidator(),
		transformer:     NewEventTransformer(),
		defaultTemplate: defaultTemplate,
		stats:           &EngineStats{Gates: make(map[string]uint64), Actions: make(map[models.RuleAction]uint64)},
	}
}

// Evaluate runs one stream event through the tenant gates and the first
// matching rule. Gated events create nothing. A second event with the same
// external id for the same tenant stops at the duplicate check.
func (e *Engine) Evaluate(ctx context.Context, event *models.StreamEvent) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{}
	defer func() {
		out.Duration = time.Since(start)
		e.updateStats(out)
	}()

	if err := e.validator.ValidateEvent(event); err != nil {
		e.metrics.RecordRuleEvaluation("", "invalid")
		return out, err
	}
	out.TenantID, out.ExternalEventID = event.TenantID, event.ExternalEventID
	logger := e.logger.WithFields(logrus.Fields{
		"tenant_id":         event.TenantID,
		"external_event_id": event.ExternalEventID,
	})

	labels := e.transformer.NormalizeLabels(event.Labels)
	route := e.router.RouteEvent(event.TenantID, labels)
	if route.Gate != "" {
		out.Gate = route.Gate
		e.metrics.RecordRuleEvaluation("", route.Gate)
		logger.WithField("gate", route.Gate).Debug("Event stopped at gate")
		return out, nil
	}
	out.Rule, out.Action = route.Rule.Name, route.Action

	signal, alert := e.transformer.BuildSignalAndAlert(event)
	created, err := e.store.CreateSignalAndAlert(ctx, signal, alert)
	if err != nil {
		e.metrics.RecordRuleEvaluation(string(route.Action), "error")
		return out, err
	}
	if !created {
		out.Duplicate = true
		e.metrics.RecordRuleEvaluation(string(route.Action), "duplicate")
		logger.Debug("Duplicate event ignored")
		return out, nil
	}
	out.Alert = alert

	e.emitter.Emit(ctx, audit.Event{
		TenantID:   alert.TenantID,
		EntityType: models.EntityAlert,
		EntityID:   alert.ID,
		EventType:  models.EventAlertCreated,
		Payload: map[string]interface{}{
			"signal_id":         signal.ID,
			"external_event_id": signal.ExternalEventID,
			"severity":          string(signal.Severity),
			"labels":            signal.Labels,
			"rule":              route.Rule.Name,
			"action":            string(route.Action),
		},
	})

	if err := e.executeAction(ctx, route, signal, alert, out); err != nil {
		e.metrics.RecordRuleEvaluation(string(route.Action), "error")
		logger.WithError(err).WithField("rule", route.Rule.Name).Error("Rule action failed")
		return out, err
	}

	e.metrics.RecordRuleEvaluation(string(route.Action), "processed")
	logger.WithFields(logrus.Fields{
		"rule":     route.Rule.Name,
		"action":   route.Action,
		"alert_id": alert.ID,
	}).Info("Rule matched")
	return out, nil
}
