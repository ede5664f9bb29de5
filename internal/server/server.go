// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/delivery"
	"github.com/smartdevs17/fleet-alert-relay/internal/ingestion"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/queue"
	"github.com/smartdevs17/fleet-alert-relay/internal/storage"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

const maxBodyBytes = 1 << 20

// WebhookHandler ingests provider webhooks
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, provider string, body []byte) (string, error)
}

// CallbackTracker accepts provider delivery callbacks
type CallbackTracker interface {
	Enqueue(ctx context.Context, cb delivery.Callback) error
}

// Acknowledger records acknowledgements
type Acknowledger interface {
	AcknowledgeUI(ctx context.Context, tenantID, alertID, actor string) (*ack.Outcome, error)
	AcknowledgeReply(ctx context.Context, tenantID, from, body string) (*ack.Outcome, error)
}

// SecretSource returns a tenant's callback signing secret
type SecretSource interface {
	CallbackSecret(tenantID string) string
}

// StorageHealth is the storage view used by health and stats endpoints
type StorageHealth interface {
	Ping() error
	GetStorageStats(ctx context.Context) (*storage.StorageStats, error)
}

// QueueStats reports task queue counters
type QueueStats interface {
	GetStats() queue.Stats
	DeadLetters() []queue.DeadLetter
}

// StreamStatus reports the provider stream subscriber
type StreamStatus interface {
	HealthCheck() error
	Stats() ingestion.StreamStats
}

// Dependencies are the components the HTTP surface drives. Stream is nil
// when the MQTT subscriber is disabled.
type Dependencies struct {
	Gateway WebhookHandler
	Tracker CallbackTracker
	Acks    Acknowledger
	Secrets SecretSource
	Storage StorageHealth
	Queue   QueueStats
	Stream  StreamStatus
	Metrics *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config    config.ServerConfig
	app       config.AppConfig
	auth      config.AuthConfig
	ingestion config.IngestionConfig
	deps      Dependencies

	server  *http.Server
	router  *mux.Router
	limiter *rate.Limiter
	logger  *logrus.Entry
	started time.Time
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.Config, deps Dependencies) *HTTPServer {
	s := &HTTPServer{
		config:    cfg.Server,
		app:       cfg.App,
		auth:      cfg.Auth,
		ingestion: cfg.Ingestion,
		deps:      deps,
		logger:    utils.ComponentLogger("http"),
		started:   time.Now(),
	}
	if cfg.Ingestion.RateLimitQPS > 0 {
		burst := cfg.Ingestion.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.Ingestion.RateLimitQPS)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Ingestion.RateLimitQPS), burst)
	}

	s.setupRouter()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler exposes the router, mainly for tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()
	s.router.Use(s.traceMiddleware)
	s.router.Use(s.loggingMiddleware)
	if s.deps.Metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	if s.config.EnableHealth {
		s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods(http.MethodGet)
	}
	if s.config.EnableMetrics && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
		s.router.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	}

	webhooks := s.router.PathPrefix("/webhooks").Subrouter()
	webhooks.Use(s.rateLimitMiddleware)
	webhooks.HandleFunc("/{provider}", s.webhookHandler).Methods(http.MethodPost)

	callbacks := s.router.PathPrefix("/callbacks/{tenant}").Subrouter()
	callbacks.Use(s.rateLimitMiddleware)
	callbacks.Use(s.signatureMiddleware)
	callbacks.HandleFunc("/message-status", s.messageStatusHandler).Methods(http.MethodPost)
	callbacks.HandleFunc("/voice-status", s.voiceStatusHandler).Methods(http.MethodPost)
	callbacks.HandleFunc("/voice-callback", s.voiceCallbackHandler).Methods(http.MethodPost)
	callbacks.HandleFunc("/message-inbound", s.messageInboundHandler).Methods(http.MethodPost)

	alerts := s.router.PathPrefix("/alerts").Subrouter()
	alerts.Use(s.corsMiddleware)
	alerts.Use(s.authMiddleware)
	alerts.HandleFunc("/{id}/ack", s.ackHandler).Methods(http.MethodPost, http.MethodOptions)
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
		"environment":     s.app.Environment,
	}).Info("Starting HTTP server")

	if s.deps.Metrics != nil {
		s.deps.Metrics.UpdateSystemMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// surface immediate bind errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		s.deps.Metrics.UpdateSystemMetrics()
		if s.deps.Storage != nil {
			s.deps.Metrics.GetPrometheusMetrics().UpdateComponentHealth("storage", s.deps.Storage.Ping() == nil)
		}
	}
}

// Stop gracefully shuts the server down
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// Health handlers

func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.app.Version,
	})
}

func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	components := map[string]interface{}{}

	if s.deps.Storage != nil {
		if err := s.deps.Storage.Ping(); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			components["storage"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			components["storage"] = map[string]interface{}{"healthy": true}
		}
	}
	if s.deps.Queue != nil {
		components["queue"] = s.deps.Queue.GetStats()
	}
	if s.deps.Stream != nil {
		// a disconnected stream degrades the service but does not fail it
		if err := s.deps.Stream.HealthCheck(); err != nil {
			if status == "healthy" {
				status = "degraded"
			}
			components["stream"] = map[string]interface{}{"healthy": false, "error": err.Error()}
		} else {
			components["stream"] = map[string]interface{}{"healthy": true}
		}
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.app.Version,
		"uptime":     time.Since(s.started).String(),
		"components": components,
	})
}

func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"timestamp": time.Now().UTC()}
	if s.deps.Storage != nil {
		storageStats, err := s.deps.Storage.GetStorageStats(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
			return
		}
		stats["storage"] = storageStats
	}
	if s.deps.Queue != nil {
		stats["queue"] = s.deps.Queue.GetStats()
		stats["dead_letters"] = s.deps.Queue.DeadLetters()
	}
	if s.deps.Stream != nil {
		stats["stream"] = s.deps.Stream.Stats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// Helpers

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError logs the internal error and sends only the message
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	entry := s.logger.WithField("status", status)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn(message)
	s.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
