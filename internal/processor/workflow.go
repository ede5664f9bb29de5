// File: internal/processor/workflow.go
package processor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// executeAction runs the matched rule's action for a newly created alert
func (e *Engine) executeAction(ctx context.Context, route *RoutingResult, signal *models.Signal, alert *models.Alert, out *Outcome) error {
	switch route.Action {
	case models.ActionAIPipeline:
		return e.triage.Enqueue(ctx, alert, signal)
	case models.ActionNotifyImmediate:
		results, err := e.notifyImmediate(ctx, route.Rule, signal, alert, true)
		out.Results = results
		return err
	case models.ActionBoth:
		return e.executeBoth(ctx, route, signal, alert, out)
	default:
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown rule action", string(route.Action))
	}
}

// executeBoth runs triage and immediate notification side by side. Triage
// owns the final alert status, so the notify path leaves it alone.
func (e *Engine) executeBoth(ctx context.Context, route *RoutingResult, signal *models.Signal, alert *models.Alert, out *Outcome) error {
	var results []*models.NotificationResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.triage.Enqueue(gctx, alert, signal)
	})
	g.Go(func() error {
		var err error
		results, err = e.notifyImmediate(gctx, route.Rule, signal, alert, false)
		return err
	})
	err := g.Wait()
	out.Results = results
	return err
}

// notifyImmediate renders the rule's message and dispatches it. With
// ownsStatus the alert is completed on success and failed otherwise.
func (e *Engine) notifyImmediate(ctx context.Context, rule *models.Rule, signal *models.Signal, alert *models.Alert, ownsStatus bool) ([]*models.NotificationResult, error) {
	tmpl := e.defaultTemplate
	if rule != nil && rule.MessageTemplate != "" {
		tmpl = rule.MessageTemplate
	}
	body := notification.Render(tmpl, notification.TemplateDataFromSignal(signal))

	results, err := e.notifier.Dispatch(ctx, notification.DispatchRequest{
		TenantID:  alert.TenantID,
		Alert:     alert,
		Signal:    signal,
		Rule:      rule,
		Message:   body,
		DedupeKey: utils.DedupeKey(string(models.ActionNotifyImmediate), alert.TenantID, alert.ExternalEventID),
	})
	if !ownsStatus {
		return results, err
	}

	if err != nil {
		if statusErr := setAlertStatus(ctx, e.store, alert, models.AlertStatusFailed); statusErr != nil {
			e.logger.WithError(statusErr).WithField("alert_id", alert.ID).Error("Failed to mark alert failed")
		}
		e.emitter.Emit(ctx, audit.Event{
			TenantID:   alert.TenantID,
			EntityType: models.EntityAlert,
			EntityID:   alert.ID,
			EventType:  models.EventAlertFailed,
			Payload:    map[string]interface{}{"reason": err.Error(), "rule": ruleName(rule)},
		})
		return results, fmt.Errorf("immediate notification failed: %w", err)
	}

	if err := setAlertStatus(ctx, e.store, alert, models.AlertStatusCompleted); err != nil {
		return results, err
	}
	e.emitter.Emit(ctx, audit.Event{
		TenantID:   alert.TenantID,
		EntityType: models.EntityAlert,
		EntityID:   alert.ID,
		EventType:  models.EventAlertCompleted,
		Payload: map[string]interface{}{
			"rule":          ruleName(rule),
			"notifications": len(results),
		},
	})
	return results, nil
}

func ruleName(rule *models.Rule) string {
	if rule == nil {
		return ""
	}
	return rule.Name
}
