package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Event is one audit ledger entry as requested by a caller. Empty
// TraceID/CorrelationID are resolved from the context.
type Event struct {
	TenantID      string
	EntityType    string
	EntityID      string
	EventType     string
	Payload       map[string]interface{}
	ActorType     string
	TraceID       string
	CorrelationID string
}

// FeatureFlags is the per-tenant capability lookup
type FeatureFlags interface {
	Enabled(tenantID string, f tenant.Feature) bool
}

// Ledger persists domain events
type Ledger interface {
	SaveDomainEvent(ctx context.Context, event *models.DomainEvent) error
}

// Submitter enqueues asynchronous work
type Submitter interface {
	Submit(ctx context.Context, task queue.Task) error
}

// Emitter writes domain events asynchronously for tenants with the audit
// ledger enabled
type Emitter struct {
	flags   FeatureFlags
	ledger  Ledger
	queue   Submitter
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry
	now     func() time.Time
}

// NewEmitter creates an emitter
func NewEmitter(flags FeatureFlags, ledger Ledger, q Submitter, m *metrics.PrometheusMetrics) *Emitter {
	return &Emitter{
		flags:   flags,
		ledger:  ledger,
		queue:   q,
		metrics: m,
		logger:  utils.ComponentLogger("audit"),
		now:     time.Now,
	}
}

// ResolveTraceID applies the trace precedence: explicit value, then the
// trace already on ctx, then a new id.
func ResolveTraceID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if ambient := utils.AmbientTraceID(ctx); ambient != "" {
		return ambient
	}
	return utils.GenerateID()
}

// ResolveCorrelationID falls back from explicit to ambient to the trace id
func ResolveCorrelationID(ctx context.Context, explicit, traceID string) string {
	if explicit != "" {
		return explicit
	}
	if ambient := utils.AmbientCorrelationID(ctx); ambient != "" {
		return ambient
	}
	return traceID
}

// Emit records ev. It returns as soon as the write is enqueued and never
// reports persistence errors to the caller.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || ev.TenantID == "" {
		return
	}
	if !e.flags.Enabled(ev.TenantID, tenant.FeatureAuditLedger) {
		return
	}

	traceID := ResolveTraceID(ctx, ev.TraceID)
	actor := ev.ActorType
	if actor == "" {
		actor = models.ActorSystem
	}
	record := &models.DomainEvent{
		ID:            utils.GenerateID(),
		TenantID:      ev.TenantID,
		EntityType:    ev.EntityType,
		EntityID:      ev.EntityID,
		EventType:     ev.EventType,
		Payload:       ev.Payload,
		ActorType:     actor,
		TraceID:       traceID,
		CorrelationID: ResolveCorrelationID(ctx, ev.CorrelationID, traceID),
		OccurredAt:    e.now().UTC(),
	}

	err := e.queue.Submit(ctx, queue.Task{
		Name: "audit.persist",
		Key:  "audit:" + record.EntityID,
		Run: func(ctx context.Context) error {
			if err := e.ledger.SaveDomainEvent(ctx, record); err != nil {
				e.metrics.RecordDomainEvent(record.EventType, "error")
				return err
			}
			e.metrics.RecordDomainEvent(record.EventType, "persisted")
			return nil
		},
	})
	if err != nil {
		e.metrics.RecordDomainEvent(record.EventType, "dropped")
		e.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  record.TenantID,
			"event_type": record.EventType,
			"entity_id":  record.EntityID,
			"trace_id":   record.TraceID,
		}).Error("Failed to enqueue domain event")
	}
}
