package ingestion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/processor"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// RuleEvaluator runs stream events through the tenant rules
type RuleEvaluator interface {
	Evaluate(ctx context.Context, event *models.StreamEvent) (*processor.Outcome, error)
}

// StreamStats holds subscriber statistics
type StreamStats struct {
	Received        uint64    `json:"received"`
	Processed       uint64    `json:"processed"`
	Dropped         uint64    `json:"dropped"`
	Failed          uint64    `json:"failed"`
	Reconnects      uint64    `json:"reconnects"`
	Broker          string    `json:"broker"`
	Topic           string    `json:"topic"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastMessageAt   time.Time `json:"last_message_at"`
	IsConnected     bool      `json:"is_connected"`
}

// StreamSubscriber consumes behavior-labelled provider events from MQTT
// and forwards them to the rule engine
type StreamSubscriber struct {
	cfg     config.MQTTConfig
	engine  RuleEvaluator
	orgs    OrgDirectory
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	mu     sync.RWMutex
	client mqtt.Client
	ctx    context.Context
	stats  StreamStats
}

// NewStreamSubscriber creates a subscriber; nothing connects until Start
func NewStreamSubscriber(cfg config.MQTTConfig, engine RuleEvaluator, orgs OrgDirectory, m *metrics.PrometheusMetrics) *StreamSubscriber {
	return &StreamSubscriber{
		cfg:     cfg,
		engine:  engine,
		orgs:    orgs,
		metrics: m,
		logger:  utils.ComponentLogger("stream"),
		ctx:     context.Background(),
		stats:   StreamStats{Broker: cfg.Broker, Topic: cfg.Topic},
	}
}

// Start connects to the broker and subscribes. The subscription is
// restored on every reconnect.
func (s *StreamSubscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.WithError(err).Warn("Stream connection lost")
		s.metrics.UpdateComponentHealth("stream", false)
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		s.mu.Lock()
		s.stats.Reconnects++
		s.mu.Unlock()
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		s.metrics.UpdateComponentHealth("stream", true)
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.HandleMessage(s.baseContext(), msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			s.logger.WithError(token.Error()).WithField("topic", s.cfg.Topic).Error("Failed to subscribe to stream topic")
			return
		}
		s.logger.WithField("topic", s.cfg.Topic).Info("Subscribed to provider stream")
	})

	s.mu.Lock()
	s.ctx = ctx
	s.client = mqtt.NewClient(opts)
	client := s.client
	s.mu.Unlock()

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to connect to MQTT broker", token.Error().Error())
	}
	return nil
}

// Stop disconnects from the broker
func (s *StreamSubscriber) Stop() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.stats.IsConnected = false
	s.mu.Unlock()

	if client != nil {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		s.logger.Info("Stream subscriber stopped")
	}
}

// HandleMessage decodes one stream message and evaluates it. Undecodable
// or unattributable messages are logged and dropped.
func (s *StreamSubscriber) HandleMessage(ctx context.Context, topic string, payload []byte) {
	s.mu.Lock()
	s.stats.Received++
	s.stats.LastMessageAt = time.Now()
	s.mu.Unlock()

	logger := s.logger.WithField("topic", topic)
	event, err := ParseStreamMessage(payload)
	if err != nil {
		s.count(func(st *StreamStats) { st.Dropped++ })
		s.metrics.RecordStreamEvent("dropped")
		logger.WithError(err).Warn("Stream message dropped")
		return
	}

	if event.TenantID == "" {
		orgID := event.ProviderOrgID
		if orgID == "" {
			orgID = orgFromTopic(topic)
		}
		if tenantID, ok := s.orgs.TenantForOrg(orgID); ok {
			event.TenantID = tenantID
		}
	}
	if event.TenantID == "" {
		s.count(func(st *StreamStats) { st.Dropped++ })
		s.metrics.RecordStreamEvent("unattributed")
		logger.WithField("external_event_id", event.ExternalEventID).Warn("Stream event could not be attributed, dropped")
		return
	}

	if _, err := s.engine.Evaluate(ctx, event); err != nil {
		s.count(func(st *StreamStats) { st.Failed++ })
		s.metrics.RecordStreamEvent("error")
		logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":         event.TenantID,
			"external_event_id": event.ExternalEventID,
		}).Error("Stream event evaluation failed")
		return
	}
	s.count(func(st *StreamStats) { st.Processed++ })
	s.metrics.RecordStreamEvent("processed")
}

// Stats returns subscriber statistics
func (s *StreamSubscriber) Stats() StreamStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// IsConnected reports whether the broker connection is up
func (s *StreamSubscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil && s.stats.IsConnected
}

// HealthCheck returns an error when the subscriber is not connected
func (s *StreamSubscriber) HealthCheck() error {
	if !s.IsConnected() {
		return fmt.Errorf("stream subscriber not connected to %s", s.cfg.Broker)
	}
	return nil
}

func (s *StreamSubscriber) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.IsConnected = connected
	if connected {
		s.stats.LastConnectedAt = time.Now()
	}
}

func (s *StreamSubscriber) count(f func(*StreamStats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func (s *StreamSubscriber) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctx
}

// orgFromTopic reads the org segment of "fleet/<org>/safety-events"
func orgFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}
