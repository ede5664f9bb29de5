package ingestion

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/processor"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Webhook outcomes, also used as metric labels
const (
	OutcomeCreated   = "created"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
	OutcomeError     = "error"
)

// Store creates signals and their alerts
type Store interface {
	CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) (bool, error)
}

// OrgDirectory maps provider organisations to tenants
type OrgDirectory interface {
	TenantForOrg(orgID string) (string, bool)
}

// Dispatcher hands new alerts to AI triage
type Dispatcher interface {
	Enqueue(ctx context.Context, alert *models.Alert, signal *models.Signal) error
}

// Emitter publishes domain events
type Emitter interface {
	Emit(ctx context.Context, ev audit.Event)
}

// Gateway turns provider webhooks into signals and pending alerts
type Gateway struct {
	store         Store
	vehicles      collaborators.VehicleDirectory
	orgs          OrgDirectory
	triage        Dispatcher
	emitter       Emitter
	metrics       *metrics.PrometheusMetrics
	logger        *logrus.Entry
	transformer   *processor.EventTransformer
	defaultTenant string
}

// NewGateway creates an ingestion gateway. defaultTenant is the last
// attribution fallback and may be empty.
func NewGateway(store Store, vehicles collaborators.VehicleDirectory, orgs OrgDirectory, triage Dispatcher,
	emitter Emitter, m *metrics.PrometheusMetrics, defaultTenant string) *Gateway {
	return &Gateway{
		store:         store,
		vehicles:      vehicles,
		orgs:          orgs,
		triage:        triage,
		emitter:       emitter,
		metrics:       m,
		logger:        utils.ComponentLogger("ingestion"),
		transformer:   processor.NewEventTransformer(),
		defaultTenant: defaultTenant,
	}
}

// HandleWebhook ingests one provider webhook. Payload problems, duplicates
// and unattributable events are accepted and dropped; only a storage
// failure is returned.
func (g *Gateway) HandleWebhook(ctx context.Context, provider string, body []byte) (string, error) {
	event, err := ParseWebhook(provider, body)
	if err != nil {
		level := logrus.WarnLevel
		if errors.Is(err, ErrEmptyPayload) {
			level = logrus.DebugLevel
		}
		g.logger.WithError(err).WithField("provider", provider).Log(level, "Webhook payload dropped")
		g.metrics.RecordWebhook(provider, OutcomeDropped)
		return OutcomeDropped, nil
	}

	logger := g.logger.WithFields(logrus.Fields{
		"provider":          provider,
		"external_event_id": event.ExternalEventID,
		"vehicle_id":        event.VehicleID,
	})

	tenantID, how := g.attribute(ctx, event)
	if tenantID == "" {
		logger.WithField("provider_org_id", event.ProviderOrgID).Warn("Webhook could not be attributed to a tenant, dropped")
		g.metrics.RecordWebhook(provider, OutcomeDropped)
		return OutcomeDropped, nil
	}
	event.TenantID = tenantID
	logger = logger.WithFields(logrus.Fields{"tenant_id": tenantID, "attribution": how})

	signal, alert := g.transformer.BuildSignalAndAlert(event)
	created, err := g.store.CreateSignalAndAlert(ctx, signal, alert)
	if err != nil {
		g.metrics.RecordWebhook(provider, OutcomeError)
		logger.WithError(err).Error("Failed to store webhook event")
		return OutcomeError, err
	}
	if !created {
		g.metrics.RecordWebhook(provider, OutcomeDuplicate)
		logger.Debug("Duplicate webhook delivery ignored")
		return OutcomeDuplicate, nil
	}

	g.emitter.Emit(ctx, audit.Event{
		TenantID:   tenantID,
		EntityType: models.EntityAlert,
		EntityID:   alert.ID,
		EventType:  models.EventAlertCreated,
		ActorType:  models.ActorProvider,
		Payload: map[string]interface{}{
			"signal_id":         signal.ID,
			"external_event_id": signal.ExternalEventID,
			"provider":          provider,
			"severity":          string(signal.Severity),
		},
	})

	if err := g.triage.Enqueue(ctx, alert, signal); err != nil {
		// the alert stays pending and visible; the provider is not asked to retry
		logger.WithError(err).Error("Failed to enqueue AI triage")
	}

	g.metrics.RecordWebhook(provider, OutcomeCreated)
	logger.WithField("alert_id", alert.ID).Info("Webhook event ingested")
	return OutcomeCreated, nil
}

// attribute finds the tenant: the vehicle directory first, then the
// provider organisation, then the configured default.
func (g *Gateway) attribute(ctx context.Context, event *models.StreamEvent) (string, string) {
	if event.VehicleID != "" && g.vehicles != nil {
		if v, ok := g.vehicles.LookupVehicle(ctx, event.Provider, event.VehicleID); ok {
			if event.VehicleName == "" {
				event.VehicleName = v.Name
			}
			return v.TenantID, "vehicle"
		}
	}
	if event.ProviderOrgID != "" && g.orgs != nil {
		if tenantID, ok := g.orgs.TenantForOrg(event.ProviderOrgID); ok {
			return tenantID, "org"
		}
	}
	if g.defaultTenant != "" {
		return g.defaultTenant, "default"
	}
	return "", ""
}
