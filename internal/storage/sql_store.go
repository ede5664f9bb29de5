package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStorage implements Storage over database/sql. Queries are written with
// "?" placeholders and rebound for PostgreSQL.
type SQLStorage struct {
	db         *sql.DB
	config     *StorageConfig
	dialect    dialect
	driver     string
	logger     *logrus.Entry
	migrations []*Migration
}

// NewSQLStorageWithDB wraps an already opened database handle. dbType is
// one of sqlite, postgres or pgx.
func NewSQLStorageWithDB(db *sql.DB, dbType string) *SQLStorage {
	s := &SQLStorage{db: db, config: &StorageConfig{Type: dbType}, logger: utils.ComponentLogger("storage")}
	if strings.EqualFold(dbType, "sqlite") {
		s.dialect = dialectSQLite
		s.driver = "sqlite"
		s.migrations = GetSQLiteMigrations()
	} else {
		s.dialect = dialectPostgres
		s.driver = postgresDriver(dbType)
		s.migrations = GetPostgresMigrations()
	}
	return s
}

// Connect establishes the database connection for the configured dialect
func (s *SQLStorage) Connect() error {
	if s.dialect == dialectSQLite {
		return s.connectSQLite()
	}
	return s.connectPostgres()
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")
	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}
	s.logger.Info("Database migrations completed")
	return nil
}

// rebind rewrites "?" placeholders to "$n" for PostgreSQL
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal JSON column", err.Error())
	}
	return string(data), nil
}

// CreateSignalAndAlert inserts the signal and its alert in one transaction.
// Both inserts are insert-or-ignore on (tenant, external event id); created
// is false when the pair already existed, in which case nothing is written.
func (s *SQLStorage) CreateSignalAndAlert(ctx context.Context, signal *models.Signal, alert *models.Alert) (bool, error) {
	labels, err := json.Marshal(signal.Labels)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to marshal signal labels", err.Error())
	}
	if signal.Labels == nil {
		labels = []byte("[]")
	}
	var raw interface{}
	if len(signal.RawPayload) > 0 && json.Valid(signal.RawPayload) {
		raw = string(signal.RawPayload)
	}

	now := time.Now().UTC()
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = now
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = alert.CreatedAt
	if alert.Status == "" {
		alert.Status = models.AlertStatusPending
	}
	if alert.NotificationStatus == "" {
		alert.NotificationStatus = models.AlertNotificationNone
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO signals
		(id, tenant_id, external_event_id, event_type, description, vehicle_id, vehicle_name,
		 driver_id, driver_name, severity, labels, occurred_at, raw_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`),
		signal.ID, signal.TenantID, signal.ExternalEventID, signal.EventType, signal.Description,
		signal.VehicleID, signal.VehicleName, signal.DriverID, signal.DriverName, string(signal.Severity),
		string(labels), signal.OccurredAt.UTC(), raw, signal.CreatedAt.UTC())
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to save signal", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO alerts
		(id, tenant_id, signal_id, external_event_id, severity, status, verdict, message,
		 notification_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`),
		alert.ID, alert.TenantID, signal.ID, signal.ExternalEventID, string(alert.Severity),
		string(alert.Status), alert.Verdict, alert.Message, alert.NotificationStatus,
		alert.CreatedAt.UTC(), alert.UpdatedAt.UTC())
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit transaction", err.Error())
	}
	alert.SignalID = signal.ID
	alert.ExternalEventID = signal.ExternalEventID
	return true, nil
}

const signalColumns = `id, tenant_id, external_event_id, event_type, description, vehicle_id, vehicle_name,
	driver_id, driver_name, severity, labels, occurred_at, raw_payload, created_at`

func scanSignal(row rowScanner) (*models.Signal, error) {
	var sig models.Signal
	var severity, labels string
	var raw sql.NullString
	if err := row.Scan(&sig.ID, &sig.TenantID, &sig.ExternalEventID, &sig.EventType, &sig.Description,
		&sig.VehicleID, &sig.VehicleName, &sig.DriverID, &sig.DriverName, &severity, &labels,
		&sig.OccurredAt, &raw, &sig.CreatedAt); err != nil {
		return nil, err
	}
	sig.Severity = models.Severity(severity)
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &sig.Labels); err != nil {
			return nil, err
		}
	}
	if raw.Valid {
		sig.RawPayload = json.RawMessage(raw.String)
	}
	return &sig, nil
}

// GetSignal retrieves a signal by id within a tenant
func (s *SQLStorage) GetSignal(ctx context.Context, tenantID, id string) (*models.Signal, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+signalColumns+` FROM signals WHERE tenant_id = ? AND id = ?`), tenantID, id)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get signal", err.Error())
	}
	return sig, nil
}

const alertColumns = `id, tenant_id, signal_id, external_event_id, severity, status, verdict, message,
	notification_status, created_at, updated_at`

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var severity, status string
	if err := row.Scan(&a.ID, &a.TenantID, &a.SignalID, &a.ExternalEventID, &severity, &status,
		&a.Verdict, &a.Message, &a.NotificationStatus, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Severity = models.Severity(severity)
	a.Status = models.AlertStatus(status)
	return &a, nil
}

// GetAlert retrieves an alert by id within a tenant
func (s *SQLStorage) GetAlert(ctx context.Context, tenantID, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts WHERE tenant_id = ? AND id = ?`), tenantID, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get alert", err.Error())
	}
	return a, nil
}

// GetAlertByExternalID retrieves the alert for a provider event id within a tenant
func (s *SQLStorage) GetAlertByExternalID(ctx context.Context, tenantID, externalEventID string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts WHERE tenant_id = ? AND external_event_id = ?`),
		tenantID, externalEventID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get alert", err.Error())
	}
	return a, nil
}

// ListAlerts returns a tenant's most recent alerts
func (s *SQLStorage) ListAlerts(ctx context.Context, tenantID string, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+alertColumns+` FROM alerts WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`),
		tenantID, limit)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list alerts", err.Error())
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan alert", err.Error())
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// UpdateAlert applies the non-nil fields of update
func (s *SQLStorage) UpdateAlert(ctx context.Context, tenantID, id string, update models.AlertUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Verdict != nil {
		sets = append(sets, "verdict = ?")
		args = append(args, *update.Verdict)
	}
	if update.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *update.Message)
	}
	if update.Severity != nil {
		sets = append(sets, "severity = ?")
		args = append(args, string(*update.Severity))
	}
	if update.NotificationStatus != nil {
		sets = append(sets, "notification_status = ?")
		args = append(args, *update.NotificationStatus)
	}
	args = append(args, tenantID, id)

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE alerts SET `+strings.Join(sets, ", ")+` WHERE tenant_id = ? AND id = ?`), args...)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update alert", err.Error())
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Alert not found", id)
	}
	return nil
}

// CreateNotificationResult inserts a new dispatch attempt
func (s *SQLStorage) CreateNotificationResult(ctx context.Context, r *models.NotificationResult) error {
	now := time.Now().UTC()
	if r.DispatchedAt.IsZero() {
		r.DispatchedAt = now
	}
	r.UpdatedAt = r.DispatchedAt
	if r.StatusCurrent == "" {
		r.StatusCurrent = models.DeliveryStatusQueued
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO notification_results
		(id, tenant_id, alert_id, channel, recipient_role, destination, destination_key,
		 provider_message_id, status_current, error_code, error_message, dispatched_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		r.ID, r.TenantID, r.AlertID, string(r.Channel), r.RecipientRole, r.Destination,
		utils.NormalizeAddress(r.Destination), nullString(r.ProviderMessageID), string(r.StatusCurrent),
		r.ErrorCode, r.ErrorMessage, r.DispatchedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save notification result", err.Error())
	}
	return nil
}

const resultColumns = `id, tenant_id, alert_id, channel, recipient_role, destination, provider_message_id,
	status_current, error_code, error_message, dispatched_at, updated_at`

func scanResult(row rowScanner) (*models.NotificationResult, error) {
	var r models.NotificationResult
	var channel, status string
	var providerID sql.NullString
	if err := row.Scan(&r.ID, &r.TenantID, &r.AlertID, &channel, &r.RecipientRole, &r.Destination,
		&providerID, &status, &r.ErrorCode, &r.ErrorMessage, &r.DispatchedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Channel = models.Channel(channel)
	r.StatusCurrent = models.DeliveryStatus(status)
	r.ProviderMessageID = providerID.String
	return &r, nil
}

func (s *SQLStorage) queryResults(ctx context.Context, query string, args ...interface{}) ([]*models.NotificationResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query notification results", err.Error())
	}
	defer rows.Close()

	var results []*models.NotificationResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification result", err.Error())
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLStorage) getResult(ctx context.Context, query string, args ...interface{}) (*models.NotificationResult, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx, s.rebind(query), args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get notification result", err.Error())
	}
	return r, nil
}

// GetNotificationResult retrieves a result by id within a tenant
func (s *SQLStorage) GetNotificationResult(ctx context.Context, tenantID, id string) (*models.NotificationResult, error) {
	return s.getResult(ctx, `SELECT `+resultColumns+` FROM notification_results WHERE tenant_id = ? AND id = ?`, tenantID, id)
}

// GetResultByProviderID retrieves a result by provider message or call id within a tenant
func (s *SQLStorage) GetResultByProviderID(ctx context.Context, tenantID, providerMessageID string) (*models.NotificationResult, error) {
	if providerMessageID == "" {
		return nil, nil
	}
	return s.getResult(ctx, `SELECT `+resultColumns+` FROM notification_results WHERE tenant_id = ? AND provider_message_id = ?`,
		tenantID, providerMessageID)
}

// ListResultsForAlert returns every dispatch attempt for an alert
func (s *SQLStorage) ListResultsForAlert(ctx context.Context, tenantID, alertID string) ([]*models.NotificationResult, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM notification_results WHERE tenant_id = ? AND alert_id = ? ORDER BY dispatched_at, id`,
		tenantID, alertID)
}

// recentResultsLimit caps how many recent results one destination lookup reads
const recentResultsLimit = 50

// RecentResultsByDestination returns results sent to destination at or
// after since, newest first. Addresses are compared in normalized form.
// Timestamps are always written in UTC, so the bound compares correctly
// on both dialects.
func (s *SQLStorage) RecentResultsByDestination(ctx context.Context, tenantID, destination string, since time.Time) ([]*models.NotificationResult, error) {
	return s.queryResults(ctx, `SELECT `+resultColumns+` FROM notification_results
		WHERE tenant_id = ? AND destination_key = ? AND dispatched_at >= ?
		ORDER BY dispatched_at DESC LIMIT `+strconv.Itoa(recentResultsLimit),
		tenantID, utils.NormalizeAddress(destination), since.UTC())
}

// CompareAndSetStatus moves status_current from change.From to change.To.
// It reports false when another writer changed the status first.
func (s *SQLStorage) CompareAndSetStatus(ctx context.Context, change StatusChange) (bool, error) {
	sets := []string{"status_current = ?", "updated_at = ?"}
	args := []interface{}{string(change.To), time.Now().UTC()}
	if change.ProviderMessageID != "" {
		sets = append(sets, "provider_message_id = ?")
		args = append(args, change.ProviderMessageID)
	}
	if change.To == models.DeliveryStatusFailed {
		sets = append(sets, "error_code = ?", "error_message = ?")
		args = append(args, change.ErrorCode, change.ErrorMessage)
	}
	args = append(args, change.TenantID, change.ResultID, string(change.From))

	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE notification_results SET `+strings.Join(sets, ", ")+
		` WHERE tenant_id = ? AND id = ? AND status_current = ?`), args...)
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to update notification status", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read affected rows", err.Error())
	}
	return n == 1, nil
}

// AppendDeliveryEvent appends one provider callback to the result's log
func (s *SQLStorage) AppendDeliveryEvent(ctx context.Context, e *models.NotificationDeliveryEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO notification_delivery_events
		(notification_result_id, status, provider_status, error_code, error_message, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), e.NotificationResultID, string(e.Status), e.ProviderStatus, e.ErrorCode, e.ErrorMessage, e.ReceivedAt.UTC())
	if err := row.Scan(&e.ID); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to append delivery event", err.Error())
	}
	return nil
}

// ListDeliveryEvents returns a result's log in arrival order
func (s *SQLStorage) ListDeliveryEvents(ctx context.Context, resultID string) ([]*models.NotificationDeliveryEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, notification_result_id, status, provider_status, error_code, error_message, received_at
		FROM notification_delivery_events WHERE notification_result_id = ?
		ORDER BY received_at, id
	`), resultID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list delivery events", err.Error())
	}
	defer rows.Close()

	var events []*models.NotificationDeliveryEvent
	for rows.Next() {
		var e models.NotificationDeliveryEvent
		var status string
		if err := rows.Scan(&e.ID, &e.NotificationResultID, &status, &e.ProviderStatus, &e.ErrorCode,
			&e.ErrorMessage, &e.ReceivedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan delivery event", err.Error())
		}
		e.Status = models.DeliveryStatus(status)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// InsertAck stores an acknowledgement. inserted is false when a ui ack
// already exists for the alert.
func (s *SQLStorage) InsertAck(ctx context.Context, ack *models.NotificationAck) (bool, error) {
	payload, err := marshalJSON(ack.Payload)
	if err != nil {
		return false, err
	}
	if ack.CreatedAt.IsZero() {
		ack.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO notification_acks
		(id, tenant_id, alert_id, notification_result_id, ack_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), ack.ID, ack.TenantID, ack.AlertID, nullString(ack.NotificationResultID), string(ack.AckType), payload, ack.CreatedAt.UTC())
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to save acknowledgement", err.Error())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to read affected rows", err.Error())
	}
	return n == 1, nil
}

// ListAcks returns an alert's acknowledgements oldest first
func (s *SQLStorage) ListAcks(ctx context.Context, tenantID, alertID string) ([]*models.NotificationAck, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, tenant_id, alert_id, notification_result_id, ack_type, payload, created_at
		FROM notification_acks WHERE tenant_id = ? AND alert_id = ?
		ORDER BY created_at, id
	`), tenantID, alertID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list acknowledgements", err.Error())
	}
	defer rows.Close()

	var acks []*models.NotificationAck
	for rows.Next() {
		var a models.NotificationAck
		var resultID sql.NullString
		var ackType, payload string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AlertID, &resultID, &ackType, &payload, &a.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan acknowledgement", err.Error())
		}
		a.NotificationResultID = resultID.String
		a.AckType = models.AckType(ackType)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal ack payload", err.Error())
			}
		}
		acks = append(acks, &a)
	}
	return acks, rows.Err()
}

// SaveDomainEvent appends one audit ledger entry. Re-saving an event with
// the same id is a no-op, so retried writes never duplicate rows.
func (s *SQLStorage) SaveDomainEvent(ctx context.Context, e *models.DomainEvent) error {
	payload, err := marshalJSON(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO domain_events
		(id, tenant_id, entity_type, entity_id, event_type, payload, actor_type, trace_id, correlation_id, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`), e.ID, e.TenantID, e.EntityType, e.EntityID, e.EventType, payload, e.ActorType, e.TraceID,
		e.CorrelationID, e.OccurredAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save domain event", err.Error())
	}
	return nil
}

// ListDomainEvents queries the audit ledger, oldest first
func (s *SQLStorage) ListDomainEvents(ctx context.Context, filter models.DomainEventFilter) ([]*models.DomainEvent, error) {
	where := []string{"tenant_id = ?"}
	args := []interface{}{filter.TenantID}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, tenant_id, entity_type, entity_id, event_type, payload, actor_type, trace_id, correlation_id, occurred_at
		FROM domain_events WHERE `+strings.Join(where, " AND ")+`
		ORDER BY occurred_at, id LIMIT ?
	`), args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list domain events", err.Error())
	}
	defer rows.Close()

	var events []*models.DomainEvent
	for rows.Next() {
		var e models.DomainEvent
		var payload string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EntityType, &e.EntityID, &e.EventType, &payload,
			&e.ActorType, &e.TraceID, &e.CorrelationID, &e.OccurredAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan domain event", err.Error())
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to unmarshal event payload", err.Error())
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// AppendActivity adds a timeline entry to an alert
func (s *SQLStorage) AppendActivity(ctx context.Context, a *models.AlertActivity) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO alert_activities (id, tenant_id, alert_id, kind, message, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.TenantID, a.AlertID, a.Kind, a.Message, a.Actor, a.CreatedAt.UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save alert activity", err.Error())
	}
	return nil
}

// ListActivities returns an alert's timeline oldest first
func (s *SQLStorage) ListActivities(ctx context.Context, tenantID, alertID string) ([]*models.AlertActivity, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, tenant_id, alert_id, kind, message, actor, created_at
		FROM alert_activities WHERE tenant_id = ? AND alert_id = ?
		ORDER BY created_at, id
	`), tenantID, alertID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to list alert activities", err.Error())
	}
	defer rows.Close()

	var activities []*models.AlertActivity
	for rows.Next() {
		var a models.AlertActivity
		if err := rows.Scan(&a.ID, &a.TenantID, &a.AlertID, &a.Kind, &a.Message, &a.Actor, &a.CreatedAt); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan alert activity", err.Error())
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// GetStorageStats counts rows in every table
func (s *SQLStorage) GetStorageStats(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}
	counts := []struct {
		table string
		dest  *int64
	}{
		{"signals", &stats.TotalSignals},
		{"alerts", &stats.TotalAlerts},
		{"notification_results", &stats.TotalNotifications},
		{"notification_delivery_events", &stats.TotalDeliveryEvents},
		{"notification_acks", &stats.TotalAcks},
		{"domain_events", &stats.TotalDomainEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count "+c.table, err.Error())
		}
	}
	return stats, nil
}
