package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
)

func newMockStore(t *testing.T) (*storage.SQLStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewSQLStorageWithDB(db, "postgres"), mock
}

func TestPostgresCreateSignalAndAlert(t *testing.T) {
	store, mock := newMockStore(t)
	sig, alert := newSignal("acme", "evt-pg")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO signals .* VALUES \(\$1, \$2, \$3, .*\$14\) ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alerts .* VALUES \(\$1, .*\$11\) ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := store.CreateSignalAndAlert(context.Background(), sig, alert)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDuplicateSignalRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	sig, alert := newSignal("acme", "evt-pg")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO signals`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	created, err := store.CreateSignalAndAlert(context.Background(), sig, alert)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSetStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE notification_results SET status_current = \$1, updated_at = \$2, error_code = \$3, error_message = \$4 WHERE tenant_id = \$5 AND id = \$6 AND status_current = \$7`).
		WithArgs("failed", sqlmock.AnyArg(), "30008", "Unknown error", "acme", "res-1", "sent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.CompareAndSetStatus(context.Background(), storage.StatusChange{
		TenantID:     "acme",
		ResultID:     "res-1",
		From:         models.DeliveryStatusSent,
		To:           models.DeliveryStatusFailed,
		ErrorCode:    "30008",
		ErrorMessage: "Unknown error",
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendDeliveryEventReturnsID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO notification_delivery_events .* RETURNING id`).
		WithArgs("res-1", "delivered", "delivered", "", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	event := &models.NotificationDeliveryEvent{
		NotificationResultID: "res-1",
		Status:               models.DeliveryStatusDelivered,
		ProviderStatus:       "delivered",
	}
	require.NoError(t, store.AppendDeliveryEvent(context.Background(), event))
	assert.Equal(t, int64(42), event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInsertAckConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO notification_acks .* ON CONFLICT DO NOTHING`).
		WithArgs("ack-1", "acme", "alert-1", nil, "ui", `{"actor":"u1"}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := store.InsertAck(context.Background(), &models.NotificationAck{
		ID:       "ack-1",
		TenantID: "acme",
		AlertID:  "alert-1",
		AckType:  models.AckTypeUI,
		Payload:  map[string]interface{}{"actor": "u1"},
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateStorageConfig(t *testing.T) {
	assert.Error(t, storage.ValidateStorageConfig(&config.StorageConfig{Type: "mysql", ConnectionString: "x"}))
	assert.Error(t, storage.ValidateStorageConfig(&config.StorageConfig{Type: "sqlite"}))
	assert.NoError(t, storage.ValidateStorageConfig(&config.StorageConfig{Type: "pgx", ConnectionString: "postgres://localhost/relay"}))
}

func TestPostgresRecentResultsFiltersInQuery(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM notification_results\s+WHERE tenant_id = \$1 AND destination_key = \$2 AND dispatched_at >= \$3\s+ORDER BY dispatched_at DESC LIMIT 50`).
		WithArgs("acme", sqlmock.AnyArg(), since).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	results, err := store.RecentResultsByDestination(context.Background(), "acme", "+15550100", since)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NoError(t, mock.ExpectationsWereMet())
}
