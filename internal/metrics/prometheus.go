package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the relay. Every
// Record method is safe on a nil receiver so components can run without
// metrics in tests.
type PrometheusMetrics struct {
	// Ingestion and rule metrics
	WebhooksReceivedTotal *prometheus.CounterVec
	StreamEventsTotal     *prometheus.CounterVec
	RuleEvaluationsTotal  *prometheus.CounterVec
	PipelineRunsTotal     *prometheus.CounterVec

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec
	NotificationDuration      *prometheus.HistogramVec
	DedupeHitsTotal           prometheus.Counter

	// Delivery and acknowledgement metrics
	CallbacksTotal         *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	AcksTotal              *prometheus.CounterVec
	DomainEventsTotal      *prometheus.CounterVec

	// Task queue metrics
	QueueTasksTotal   *prometheus.CounterVec
	QueueTaskDuration *prometheus.HistogramVec
	QueueDepth        prometheus.Gauge
	DeadLettersTotal  *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		WebhooksReceivedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_webhooks_received_total",
				Help: "Total number of provider webhooks received",
			},
			[]string{"provider", "outcome"},
		),

		StreamEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_stream_events_total",
				Help: "Total number of provider stream events received",
			},
			[]string{"outcome"},
		),

		RuleEvaluationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_rule_evaluations_total",
				Help: "Total number of rule evaluations by resulting action",
			},
			[]string{"action", "outcome"},
		),

		PipelineRunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_pipeline_runs_total",
				Help: "Total number of AI pipeline evaluations",
			},
			[]string{"status"},
		),

		NotificationsSentTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_notifications_sent_total",
				Help: "Total number of notifications accepted by the transport provider",
			},
			[]string{"channel"},
		),

		NotificationFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_notification_failures_total",
				Help: "Total number of notification transport failures",
			},
			[]string{"channel", "error_type"},
		),

		NotificationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_relay_notification_duration_seconds",
				Help:    "Duration of transport provider send calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),

		DedupeHitsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_relay_dedupe_hits_total",
				Help: "Total number of dispatches suppressed by a dedupe key",
			},
		),

		CallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_callbacks_total",
				Help: "Total number of provider callbacks by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		StatusTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_status_transitions_total",
				Help: "Total number of applied delivery status transitions",
			},
			[]string{"channel", "status"},
		),

		AcksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_acks_total",
				Help: "Total number of acknowledgement attempts",
			},
			[]string{"type", "outcome"},
		),

		DomainEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_domain_events_total",
				Help: "Total number of audit ledger events",
			},
			[]string{"event_type", "outcome"},
		),

		QueueTasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_queue_tasks_total",
				Help: "Total number of task queue executions",
			},
			[]string{"task", "status"},
		),

		QueueTaskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_relay_queue_task_duration_seconds",
				Help:    "Duration of task queue executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"task"},
		),

		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_relay_queue_depth",
				Help: "Number of tasks submitted but not yet finished",
			},
		),

		DeadLettersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_dead_letters_total",
				Help: "Total number of tasks moved to the dead-letter list",
			},
			[]string{"task"},
		),

		DatabaseOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_relay_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_relay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_relay_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fleet_relay_component_health",
				Help: "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_relay_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_relay_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordWebhook records an inbound provider webhook
func (m *PrometheusMetrics) RecordWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksReceivedTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordStreamEvent records an inbound stream event
func (m *PrometheusMetrics) RecordStreamEvent(outcome string) {
	if m == nil {
		return
	}
	m.StreamEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordRuleEvaluation records a rule engine decision
func (m *PrometheusMetrics) RecordRuleEvaluation(action, outcome string) {
	if m == nil {
		return
	}
	m.RuleEvaluationsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordPipelineRun records an AI pipeline evaluation
func (m *PrometheusMetrics) RecordPipelineRun(status string) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
}

// RecordNotificationSent records a successful transport send
func (m *PrometheusMetrics) RecordNotificationSent(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	m.NotificationsSentTotal.WithLabelValues(channel).Inc()
	m.NotificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordNotificationFailure records a failed transport send
func (m *PrometheusMetrics) RecordNotificationFailure(channel, errorType string) {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.WithLabelValues(channel, errorType).Inc()
}

// RecordDedupeHit records a suppressed duplicate dispatch
func (m *PrometheusMetrics) RecordDedupeHit() {
	if m == nil {
		return
	}
	m.DedupeHitsTotal.Inc()
}

// RecordCallback records a provider callback
func (m *PrometheusMetrics) RecordCallback(kind, outcome string) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStatusTransition records an applied delivery status change
func (m *PrometheusMetrics) RecordStatusTransition(channel, status string) {
	if m == nil {
		return
	}
	m.StatusTransitionsTotal.WithLabelValues(channel, status).Inc()
}

// RecordAck records an acknowledgement attempt
func (m *PrometheusMetrics) RecordAck(ackType, outcome string) {
	if m == nil {
		return
	}
	m.AcksTotal.WithLabelValues(ackType, outcome).Inc()
}

// RecordDomainEvent records an audit ledger emit or write
func (m *PrometheusMetrics) RecordDomainEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.DomainEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordQueueTask records one task execution attempt
func (m *PrometheusMetrics) RecordQueueTask(task, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.QueueTasksTotal.WithLabelValues(task, status).Inc()
	m.QueueTaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// UpdateQueueDepth sets the number of unfinished tasks
func (m *PrometheusMetrics) UpdateQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordDeadLetter records a task that exhausted its attempts
func (m *PrometheusMetrics) RecordDeadLetter(task string) {
	if m == nil {
		return
	}
	m.DeadLettersTotal.WithLabelValues(task).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates memory usage
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	if m == nil {
		return
	}
	m.GoroutineCount.Set(float64(count))
}
