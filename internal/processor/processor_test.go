package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage/storagetest"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notification.DispatchRequest
	err      error
}

func (n *fakeNotifier) Dispatch(ctx context.Context, req notification.DispatchRequest) ([]*models.NotificationResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	if n.err != nil {
		return nil, n.err
	}
	return []*models.NotificationResult{{ID: "res-" + req.Alert.ID, Channel: models.ChannelSMS}}, nil
}

func (n *fakeNotifier) calls() []notification.DispatchRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.DispatchRequest(nil), n.requests...)
}

type fakePipeline struct {
	verdict *collaborators.Verdict
	err     error
}

func (p *fakePipeline) Evaluate(ctx context.Context, alert *models.Alert, signal *models.Signal) (*collaborators.Verdict, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.verdict, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func ruleTenant(id string, rules ...models.Rule) config.TenantConfig {
	return config.TenantConfig{
		ID:          id,
		Features:    map[string]bool{"safety_rules": true},
		Credentials: config.CredentialsConfig{Active: true, AccountSID: "AC-" + id, AuthToken: "tok"},
		Rules:       models.RuleSet{Version: 1, Rules: rules},
	}
}

type engineFixture struct {
	store    storage.Storage
	tenants  *tenant.Registry
	queue    *queue.Queue
	notifier *fakeNotifier
	pipeline *fakePipeline
	emitter  *recordingEmitter
	engine   *Engine
}

func newEngineFixture(t *testing.T, withPipeline bool, tenants ...config.TenantConfig) *engineFixture {
	t.Helper()
	reg, err := tenant.NewRegistry(tenants)
	require.NoError(t, err)

	f := &engineFixture{
		store:    storagetest.New(t),
		tenants:  reg,
		queue:    queue.New(config.QueueConfig{Workers: 2, MaxAttempts: 2, RetryDelay: time.Millisecond}, nil),
		notifier: &fakeNotifier{},
		pipeline: &fakePipeline{verdict: &collaborators.Verdict{Verdict: "confirmed", Message: "Driver braked hard", Severity: models.SeverityCritical}},
		emitter:  &recordingEmitter{},
	}
	f.queue.Start()
	t.Cleanup(f.queue.Stop)

	var pipeline collaborators.Pipeline
	if withPipeline {
		pipeline = f.pipeline
	}
	triage := NewTriage(f.store, pipeline, f.notifier, collaborators.NewActivityLog(f.store), f.emitter, f.queue, nil)
	f.engine = NewEngine(f.store, reg, triage, f.notifier, f.emitter, nil, "")
	return f
}

func streamEvent(tenantID, externalID string, labels ...string) *models.StreamEvent {
	return &models.StreamEvent{
		TenantID:        tenantID,
		Provider:        "samsara",
		ExternalEventID: externalID,
		EventType:       "safety_event",
		VehicleID:       "veh-1",
		VehicleName:     "T-001",
		Severity:        "critical",
		Labels:          labels,
		OccurredAt:      time.Now().UTC().Add(-time.Minute),
	}
}

func (f *engineFixture) alertStatus(t *testing.T, tenantID, id string) models.AlertStatus {
	t.Helper()
	alert, err := f.store.GetAlert(context.Background(), tenantID, id)
	require.NoError(t, err)
	require.NotNil(t, alert)
	return alert.Status
}

func TestEvaluateGates(t *testing.T) {
	rule := models.Rule{Name: "braking", Labels: []string{"harsh_braking"}, Action: models.ActionNotifyImmediate}
	disabled := ruleTenant("disabled", rule)
	disabled.Features = nil
	noCreds := ruleTenant("nocreds", rule)
	noCreds.Credentials.Active = false

	f := newEngineFixture(t, false, ruleTenant("acme", rule), disabled, noCreds)
	ctx := context.Background()

	cases := []struct {
		event *models.StreamEvent
		gate  string
	}{
		{streamEvent("disabled", "e1", "harsh_braking"), GateFeatureDisabled},
		{streamEvent("unknown", "e1", "harsh_braking"), GateFeatureDisabled},
		{streamEvent("nocreds", "e1", "harsh_braking"), GateNoCredentials},
		{streamEvent("acme", "e1", "speeding"), GateNoMatchingRule},
	}
	for _, tc := range cases {
		out, err := f.engine.Evaluate(ctx, tc.event)
		require.NoError(t, err)
		assert.Equal(t, tc.gate, out.Gate, tc.event.TenantID)
		assert.False(t, out.Processed())
	}

	// nothing was stored for gated events
	alerts, err := f.store.ListAlerts(ctx, "acme", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, f.notifier.calls())
	assert.Empty(t, f.emitter.events)
}

func TestEvaluateRejectsInvalidEvents(t *testing.T) {
	f := newEngineFixture(t, false, ruleTenant("acme"))

	_, err := f.engine.Evaluate(context.Background(), &models.StreamEvent{TenantID: "acme"})
	assert.Equal(t, utils.ErrCodeValidation, utils.ErrorCode(err))
}

func TestEvaluateNotifyImmediate(t *testing.T) {
	rule := models.Rule{Name: "braking", Labels: []string{"HARSH_BRAKING"}, Action: models.ActionNotifyImmediate,
		Channels: []models.Channel{models.ChannelSMS}, MessageTemplate: "{{vehicle}}: {{event}}"}
	f := newEngineFixture(t, false, ruleTenant("acme", rule))
	ctx := context.Background()

	out, err := f.engine.Evaluate(ctx, streamEvent("acme", "e1", "harsh_braking"))
	require.NoError(t, err)
	require.True(t, out.Processed())
	assert.Equal(t, "braking", out.Rule)
	assert.Len(t, out.Results, 1)

	calls := f.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "T-001: safety_event", calls[0].Message)
	assert.Equal(t, "notify_immediate:acme:e1", calls[0].DedupeKey)
	assert.Equal(t, "braking", calls[0].Rule.Name)

	assert.Equal(t, models.AlertStatusCompleted, f.alertStatus(t, "acme", out.Alert.ID))
	assert.Equal(t, []string{models.EventAlertCreated, models.EventAlertCompleted}, f.emitter.types())
}

func TestEvaluateNotifyImmediateFailureFailsAlert(t *testing.T) {
	rule := models.Rule{Name: "braking", Labels: []string{"harsh_braking"}, Action: models.ActionNotifyImmediate}
	f := newEngineFixture(t, false, ruleTenant("acme", rule))
	f.notifier.err = errors.New("database is locked")

	out, err := f.engine.Evaluate(context.Background(), streamEvent("acme", "e1", "harsh_braking"))
	require.Error(t, err)
	require.NotNil(t, out.Alert)
	assert.Equal(t, models.AlertStatusFailed, f.alertStatus(t, "acme", out.Alert.ID))
	assert.Contains(t, f.emitter.types(), models.EventAlertFailed)
}

func TestEvaluateDuplicatePerTenant(t *testing.T) {
	rule := models.Rule{Name: "braking", Labels: []string{"harsh_braking"}, Action: models.ActionNotifyImmediate}
	f := newEngineFixture(t, false, ruleTenant("acme", rule), ruleTenant("globex", rule))
	ctx := context.Background()

	first, err := f.engine.Evaluate(ctx, streamEvent("acme", "e1", "harsh_braking"))
	require.NoError(t, err)
	assert.True(t, first.Processed())

	again, err := f.engine.Evaluate(ctx, streamEvent("acme", "e1", "harsh_braking"))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Nil(t, again.Alert)

	// the same external id is independent for another tenant
	other, err := f.engine.Evaluate(ctx, streamEvent("globex", "e1", "harsh_braking"))
	require.NoError(t, err)
	assert.True(t, other.Processed())

	assert.Len(t, f.notifier.calls(), 2)
	stats := f.engine.GetStats()
	assert.Equal(t, uint64(1), stats.DuplicateEvents)
}

func TestEvaluateAIPipeline(t *testing.T) {
	rule := models.Rule{Name: "collision", Labels: []string{"collision"}, Action: models.ActionAIPipeline}
	f := newEngineFixture(t, true, ruleTenant("acme", rule))
	f.pipeline.verdict.Notify = true
	ctx := context.Background()

	out, err := f.engine.Evaluate(ctx, streamEvent("acme", "e1", "collision"))
	require.NoError(t, err)
	f.queue.Wait()

	alert, err := f.store.GetAlert(ctx, "acme", out.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusCompleted, alert.Status)
	assert.Equal(t, "confirmed", alert.Verdict)
	assert.Equal(t, "Driver braked hard", alert.Message)

	calls := f.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ai_pipeline:acme:e1", calls[0].DedupeKey)
	assert.Equal(t, "Driver braked hard", calls[0].Message)

	activities, err := f.store.ListActivities(ctx, "acme", out.Alert.ID)
	require.NoError(t, err)
	var kinds []string
	for _, a := range activities {
		kinds = append(kinds, a.Kind)
	}
	assert.ElementsMatch(t, []string{collaborators.ActivityTriaged, collaborators.ActivityNotified}, kinds)
}

func TestEvaluateAIPipelineFailureFailsAlert(t *testing.T) {
	rule := models.Rule{Name: "collision", Labels: []string{"collision"}, Action: models.ActionAIPipeline}
	f := newEngineFixture(t, true, ruleTenant("acme", rule))
	f.pipeline.err = errors.New("pipeline unavailable")

	out, err := f.engine.Evaluate(context.Background(), streamEvent("acme", "e1", "collision"))
	require.NoError(t, err)
	f.queue.Wait()

	assert.Equal(t, models.AlertStatusFailed, f.alertStatus(t, "acme", out.Alert.ID))
	assert.Contains(t, f.emitter.types(), models.EventAlertFailed)
	assert.Empty(t, f.notifier.calls())
}

func TestEvaluatePipelineDisabledLeavesAlertPending(t *testing.T) {
	rule := models.Rule{Name: "collision", Labels: []string{"collision"}, Action: models.ActionAIPipeline}
	f := newEngineFixture(t, false, ruleTenant("acme", rule))

	out, err := f.engine.Evaluate(context.Background(), streamEvent("acme", "e1", "collision"))
	require.NoError(t, err)
	f.queue.Wait()
	assert.Equal(t, models.AlertStatusPending, f.alertStatus(t, "acme", out.Alert.ID))
}

func TestEvaluateBothRunsTriageAndNotify(t *testing.T) {
	rule := models.Rule{Name: "panic", Labels: []string{"panic_button"}, Action: models.ActionBoth}
	f := newEngineFixture(t, true, ruleTenant("acme", rule))
	ctx := context.Background()

	out, err := f.engine.Evaluate(ctx, streamEvent("acme", "e1", "panic_button"))
	require.NoError(t, err)
	assert.Len(t, out.Results, 1)
	f.queue.Wait()

	// notify went out immediately, triage set the final status
	calls := f.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "notify_immediate:acme:e1", calls[0].DedupeKey)
	assert.Equal(t, models.AlertStatusCompleted, f.alertStatus(t, "acme", out.Alert.ID))
}
