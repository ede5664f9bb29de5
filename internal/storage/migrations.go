package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create signals and alerts tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS signals (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					external_event_id TEXT NOT NULL,
					event_type TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					vehicle_id TEXT NOT NULL DEFAULT '',
					vehicle_name TEXT NOT NULL DEFAULT '',
					driver_id TEXT NOT NULL DEFAULT '',
					driver_name TEXT NOT NULL DEFAULT '',
					severity TEXT NOT NULL,
					labels TEXT NOT NULL DEFAULT '[]', -- JSON
					occurred_at DATETIME NOT NULL,
					raw_payload TEXT,
					created_at DATETIME NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_tenant_external ON signals(tenant_id, external_event_id);

				CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					signal_id TEXT NOT NULL UNIQUE REFERENCES signals(id),
					external_event_id TEXT NOT NULL,
					severity TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					verdict TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					notification_status TEXT NOT NULL DEFAULT 'none',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_tenant_external ON alerts(tenant_id, external_event_id);
				CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(tenant_id, status);
			`,
		},
		{
			Version:     "002",
			Description: "Create notification results and delivery events tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_results (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					channel TEXT NOT NULL,
					recipient_role TEXT NOT NULL DEFAULT '',
					destination TEXT NOT NULL,
					destination_key TEXT NOT NULL,
					provider_message_id TEXT,
					status_current TEXT NOT NULL,
					error_code TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					dispatched_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_results_alert ON notification_results(tenant_id, alert_id);
				CREATE INDEX IF NOT EXISTS idx_results_destination ON notification_results(tenant_id, destination_key);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_results_provider_id ON notification_results(tenant_id, provider_message_id)
					WHERE provider_message_id IS NOT NULL;

				CREATE TABLE IF NOT EXISTS notification_delivery_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					notification_result_id TEXT NOT NULL REFERENCES notification_results(id),
					status TEXT NOT NULL,
					provider_status TEXT NOT NULL DEFAULT '',
					error_code TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					received_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_delivery_events_result ON notification_delivery_events(notification_result_id, received_at, id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notification acks table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_acks (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					notification_result_id TEXT REFERENCES notification_results(id),
					ack_type TEXT NOT NULL,
					payload TEXT NOT NULL DEFAULT '{}', -- JSON
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_acks_alert ON notification_acks(tenant_id, alert_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_acks_single_ui ON notification_acks(alert_id) WHERE ack_type = 'ui';
			`,
		},
		{
			Version:     "004",
			Description: "Create domain events and alert activities tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS domain_events (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					entity_type TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					payload TEXT NOT NULL DEFAULT '{}', -- JSON
					actor_type TEXT NOT NULL,
					trace_id TEXT NOT NULL,
					correlation_id TEXT NOT NULL,
					occurred_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_domain_events_entity ON domain_events(tenant_id, entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_domain_events_type ON domain_events(tenant_id, event_type);

				CREATE TABLE IF NOT EXISTS alert_activities (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					kind TEXT NOT NULL,
					message TEXT NOT NULL,
					actor TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_activities_alert ON alert_activities(tenant_id, alert_id, created_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create signals and alerts tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS signals (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					external_event_id TEXT NOT NULL,
					event_type TEXT NOT NULL DEFAULT '',
					description TEXT NOT NULL DEFAULT '',
					vehicle_id TEXT NOT NULL DEFAULT '',
					vehicle_name TEXT NOT NULL DEFAULT '',
					driver_id TEXT NOT NULL DEFAULT '',
					driver_name TEXT NOT NULL DEFAULT '',
					severity TEXT NOT NULL,
					labels JSONB NOT NULL DEFAULT '[]',
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					raw_payload JSONB,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_signals_tenant_external ON signals(tenant_id, external_event_id);

				CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					signal_id TEXT NOT NULL UNIQUE REFERENCES signals(id),
					external_event_id TEXT NOT NULL,
					severity TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					verdict TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					notification_status TEXT NOT NULL DEFAULT 'none',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_tenant_external ON alerts(tenant_id, external_event_id);
				CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(tenant_id, status);
			`,
		},
		{
			Version:     "002",
			Description: "Create notification results and delivery events tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_results (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					channel TEXT NOT NULL,
					recipient_role TEXT NOT NULL DEFAULT '',
					destination TEXT NOT NULL,
					destination_key TEXT NOT NULL,
					provider_message_id TEXT,
					status_current TEXT NOT NULL,
					error_code TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					dispatched_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_results_alert ON notification_results(tenant_id, alert_id);
				CREATE INDEX IF NOT EXISTS idx_results_destination ON notification_results(tenant_id, destination_key, dispatched_at);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_results_provider_id ON notification_results(tenant_id, provider_message_id)
					WHERE provider_message_id IS NOT NULL;

				CREATE TABLE IF NOT EXISTS notification_delivery_events (
					id BIGSERIAL PRIMARY KEY,
					notification_result_id TEXT NOT NULL REFERENCES notification_results(id),
					status TEXT NOT NULL,
					provider_status TEXT NOT NULL DEFAULT '',
					error_code TEXT NOT NULL DEFAULT '',
					error_message TEXT NOT NULL DEFAULT '',
					received_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_delivery_events_result ON notification_delivery_events(notification_result_id, received_at, id);
			`,
		},
		{
			Version:     "003",
			Description: "Create notification acks table",
			SQL: `
				CREATE TABLE IF NOT EXISTS notification_acks (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					notification_result_id TEXT REFERENCES notification_results(id),
					ack_type TEXT NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_acks_alert ON notification_acks(tenant_id, alert_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_acks_single_ui ON notification_acks(alert_id) WHERE ack_type = 'ui';
			`,
		},
		{
			Version:     "004",
			Description: "Create domain events and alert activities tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS domain_events (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					entity_type TEXT NOT NULL,
					entity_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					payload JSONB NOT NULL DEFAULT '{}',
					actor_type TEXT NOT NULL,
					trace_id TEXT NOT NULL,
					correlation_id TEXT NOT NULL,
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_domain_events_entity ON domain_events(tenant_id, entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_domain_events_type ON domain_events(tenant_id, event_type);

				CREATE TABLE IF NOT EXISTS alert_activities (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					alert_id TEXT NOT NULL REFERENCES alerts(id),
					kind TEXT NOT NULL,
					message TEXT NOT NULL,
					actor TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_activities_alert ON alert_activities(tenant_id, alert_id, created_at);
			`,
		},
	}
}
