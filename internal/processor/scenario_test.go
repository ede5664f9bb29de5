package processor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/audit"
	"github.com/smartdevs17/fleet-alert-relay/internal/cache"
	"github.com/smartdevs17/fleet-alert-relay/internal/collaborators"
	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/delivery"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/internal/processor"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage/storagetest"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
)

type stubTransport struct {
	mu  sync.Mutex
	ids []string
}

func (s *stubTransport) Send(ctx context.Context, msg *notification.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "SM-" + msg.ResultID
	s.ids = append(s.ids, id)
	return id, nil
}

func TestCriticalSignalEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storagetest.New(t)

	reg, err := tenant.NewRegistry([]config.TenantConfig{{
		ID:          "acme",
		Features:    map[string]bool{"safety_rules": true, "audit_ledger": true},
		Credentials: config.CredentialsConfig{Active: true, AccountSID: "AC1", AuthToken: "tok", SMSFrom: "+15550000"},
		Rules: models.RuleSet{Version: 1, Rules: []models.Rule{{
			Name:     "critical-braking",
			Labels:   []string{"harsh_braking"},
			Action:   models.ActionNotifyImmediate,
			Channels: []models.Channel{models.ChannelSMS},
			Roles:    []string{"safety_manager"},
		}}},
		Contacts: map[string][]config.ContactEntry{
			"safety_manager": {{Name: "Ana", Address: "+15550100"}},
		},
	}})
	require.NoError(t, err)

	q := queue.New(config.QueueConfig{Workers: 4, MaxAttempts: 3, RetryDelay: time.Millisecond}, nil)
	q.Start()
	defer q.Stop()

	emitter := audit.NewEmitter(reg, store, q, nil)
	activity := collaborators.NewActivityLog(store)
	acks := ack.NewResolver(store, activity, emitter, nil, time.Hour)
	tracker := delivery.NewTracker(store, acks, emitter, q, nil)
	transport := &stubTransport{}
	notifier := notification.NewEngine(store, reg, reg, cache.NewMemoryDedupeStore(), transport, tracker, q, nil,
		notification.Options{DedupeTTL: time.Hour})
	triage := processor.NewTriage(store, nil, notifier, activity, emitter, q, nil)
	engine := processor.NewEngine(store, reg, triage, notifier, emitter, nil, "")

	out, err := engine.Evaluate(ctx, &models.StreamEvent{
		TenantID:        "acme",
		Provider:        "samsara",
		ExternalEventID: "evt-t001",
		EventType:       "harsh_braking",
		VehicleID:       "veh-1",
		VehicleName:     "T-001",
		Severity:        "critical",
		Labels:          []string{"harsh_braking"},
		OccurredAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, out.Processed())
	require.Len(t, out.Results, 1)
	assert.Equal(t, models.ChannelSMS, out.Results[0].Channel)
	q.Wait()
	t.Logf("✓ Alert %s dispatched", out.Alert.ID)

	alert, err := store.GetAlert(ctx, "acme", out.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusCompleted, alert.Status)
	assert.Equal(t, models.AlertNotificationSent, alert.NotificationStatus)

	providerID := "SM-" + out.Results[0].ID
	for _, status := range []string{"delivered", "read"} {
		require.NoError(t, tracker.Enqueue(ctx, delivery.Callback{
			TenantID: "acme", Kind: delivery.KindMessageStatus, ProviderMessageID: providerID, ProviderStatus: status,
		}))
	}
	q.Wait()

	result, err := store.GetNotificationResult(ctx, "acme", out.Results[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, result.StatusCurrent)
	t.Logf("✓ Delivery status %s", result.StatusCurrent)

	first, err := acks.AcknowledgeUI(ctx, "acme", alert.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)
	second, err := acks.AcknowledgeUI(ctx, "acme", alert.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyConfirmed)

	rows, err := store.ListAcks(ctx, "acme", alert.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	q.Wait()

	events, err := store.ListDomainEvents(ctx, models.DomainEventFilter{TenantID: "acme"})
	require.NoError(t, err)
	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, models.EventAlertCreated)
	assert.Contains(t, types, models.EventNotificationSent)
	assert.Contains(t, types, models.EventNotificationDelivered)
	assert.Contains(t, types, models.EventAlertAcknowledged)
	assert.NotContains(t, types, models.EventNotificationRead)
}
