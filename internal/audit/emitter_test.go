package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage/storagetest"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

type memoryLedger struct {
	mu       sync.Mutex
	events   []*models.DomainEvent
	failures int
}

func (l *memoryLedger) SaveDomainEvent(ctx context.Context, e *models.DomainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failures > 0 {
		l.failures--
		return errors.New("database is locked")
	}
	l.events = append(l.events, e)
	return nil
}

func (l *memoryLedger) all() []*models.DomainEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*models.DomainEvent(nil), l.events...)
}

func newFixture(t *testing.T) (*Emitter, *memoryLedger, *queue.Queue, *tenant.Registry) {
	t.Helper()
	reg, err := tenant.NewRegistry([]config.TenantConfig{
		{ID: "audited", Features: map[string]bool{"audit_ledger": true}},
		{ID: "quiet", Features: map[string]bool{"audit_ledger": false}},
	})
	require.NoError(t, err)

	q := queue.New(config.QueueConfig{Workers: 2, BufferSize: 8, MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	q.Start()
	t.Cleanup(q.Stop)

	ledger := &memoryLedger{}
	return NewEmitter(reg, ledger, q, nil), ledger, q, reg
}

func TestEmitSkipsTenantsWithoutAuditLedger(t *testing.T) {
	emitter, ledger, q, _ := newFixture(t)

	emitter.Emit(context.Background(), Event{TenantID: "quiet", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertCreated})
	emitter.Emit(context.Background(), Event{TenantID: "unknown", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertCreated})
	q.Wait()

	assert.Empty(t, ledger.all())
	assert.Equal(t, int64(0), q.GetStats().Succeeded, "nothing is enqueued for disabled tenants")
}

func TestEmitFeatureToggleAtRuntime(t *testing.T) {
	emitter, ledger, q, reg := newFixture(t)

	reg.SetFeature("quiet", tenant.FeatureAuditLedger, true)
	emitter.Emit(context.Background(), Event{TenantID: "quiet", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertCreated})
	q.Wait()

	require.Len(t, ledger.all(), 1)
	assert.Equal(t, models.ActorSystem, ledger.all()[0].ActorType)
}

func TestTracePrecedence(t *testing.T) {
	spanCtx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	}))

	tests := []struct {
		name     string
		ctx      context.Context
		explicit string
		want     string
	}{
		{"explicit wins", utils.WithTraceID(spanCtx, "request-trace"), "caller-trace", "caller-trace"},
		{"span context over request value", utils.WithTraceID(spanCtx, "request-trace"), "", "4bf92f3577b34da6a3ce929d0e0e4736"},
		{"request value", utils.WithTraceID(context.Background(), "request-trace"), "", "request-trace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveTraceID(tt.ctx, tt.explicit))
		})
	}

	generated := ResolveTraceID(context.Background(), "")
	assert.Len(t, generated, 36)
	assert.NotEqual(t, generated, ResolveTraceID(context.Background(), ""))
}

func TestEmitPropagatesTraceAndCorrelation(t *testing.T) {
	emitter, ledger, q, _ := newFixture(t)

	ctx := utils.WithTraceID(context.Background(), "req-123")
	emitter.Emit(ctx, Event{TenantID: "audited", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertCreated})

	ctx = utils.WithCorrelationID(ctx, "webhook-9")
	emitter.Emit(ctx, Event{TenantID: "audited", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertCompleted, ActorType: models.ActorProvider})
	q.Wait()

	events := ledger.all()
	require.Len(t, events, 2)
	assert.Equal(t, "req-123", events[0].TraceID)
	assert.Equal(t, "req-123", events[0].CorrelationID, "correlation falls back to the trace id")
	assert.Equal(t, "webhook-9", events[1].CorrelationID)
	assert.Equal(t, models.ActorProvider, events[1].ActorType)
}

func TestEmitRetriesPersistenceFailures(t *testing.T) {
	emitter, ledger, q, _ := newFixture(t)
	ledger.failures = 2

	emitter.Emit(context.Background(), Event{TenantID: "audited", EntityType: models.EntityAlert, EntityID: "a1", EventType: models.EventAlertFailed})
	q.Wait()

	require.Len(t, ledger.all(), 1)
	assert.Empty(t, q.DeadLetters())
}

func TestEmitPersistsToStorage(t *testing.T) {
	store := storagetest.New(t)
	reg, err := tenant.NewRegistry([]config.TenantConfig{{ID: "audited", Features: map[string]bool{"audit_ledger": true}}})
	require.NoError(t, err)
	q := queue.New(config.QueueConfig{Workers: 1, MaxAttempts: 1}, nil)
	q.Start()
	defer q.Stop()

	emitter := NewEmitter(reg, store, q, nil)
	emitter.Emit(context.Background(), Event{
		TenantID:   "audited",
		EntityType: models.EntityNotification,
		EntityID:   "res-1",
		EventType:  models.EventNotificationDelivered,
		Payload:    map[string]interface{}{"channel": "sms"},
		TraceID:    "t-1",
	})
	q.Wait()

	events, err := store.ListDomainEvents(context.Background(), models.DomainEventFilter{TenantID: "audited", EntityID: "res-1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sms", events[0].Payload["channel"])
	assert.Equal(t, "t-1", events[0].TraceID)
}
