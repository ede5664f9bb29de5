package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/delivery"
	"github.com/smartdevs17/fleet-alert-relay/internal/ingestion"
	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

const (
	testSecret    = "callback-secret"
	testJWTSecret = "console-secret"
	testPublicURL = "https://relay.example.com"
)

type fakeGateway struct {
	outcome string
	err     error
	bodies  []string
}

func (g *fakeGateway) HandleWebhook(ctx context.Context, provider string, body []byte) (string, error) {
	g.bodies = append(g.bodies, string(body))
	return g.outcome, g.err
}

type fakeTracker struct {
	mu        sync.Mutex
	callbacks []delivery.Callback
}

func (t *fakeTracker) Enqueue(ctx context.Context, cb delivery.Callback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
	return nil
}

type fakeAcks struct {
	uiCalls    []string
	replyCalls []string
	err        error
	outcome    *ack.Outcome
}

func (a *fakeAcks) AcknowledgeUI(ctx context.Context, tenantID, alertID, actor string) (*ack.Outcome, error) {
	a.uiCalls = append(a.uiCalls, tenantID+"/"+alertID+"/"+actor)
	if a.err != nil {
		return nil, a.err
	}
	return a.outcome, nil
}

func (a *fakeAcks) AcknowledgeReply(ctx context.Context, tenantID, from, body string) (*ack.Outcome, error) {
	a.replyCalls = append(a.replyCalls, tenantID+"/"+from+"/"+body)
	return &ack.Outcome{Success: true}, nil
}

type staticSecrets map[string]string

func (s staticSecrets) CallbackSecret(tenantID string) string { return s[tenantID] }

type harness struct {
	server  *HTTPServer
	gateway *fakeGateway
	tracker *fakeTracker
	acks    *fakeAcks
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := &config.Config{
		App:    config.AppConfig{Version: "test", Environment: "development"},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, EnableHealth: true, EnableMetrics: true, PublicURL: testPublicURL},
		Auth:   config.AuthConfig{JWTSecret: testJWTSecret, Issuer: "fleet-console"},
	}
	if mutate != nil {
		mutate(cfg)
	}
	h := &harness{
		gateway: &fakeGateway{outcome: "created"},
		tracker: &fakeTracker{},
		acks:    &fakeAcks{outcome: &ack.Outcome{Success: true, Message: ack.MessageAcknowledged}},
	}
	h.server = NewHTTPServer(cfg, Dependencies{
		Gateway: h.gateway,
		Tracker: h.tracker,
		Acks:    h.acks,
		Secrets: staticSecrets{"tenant-a": testSecret},
		Metrics: metrics.NewManager(),
	})
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func signedForm(t *testing.T, path string, form url.Values, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if secret != "" {
		req.Header.Set(headerSignature, utils.ComputeSignature(secret, testPublicURL+path, form))
	}
	return req
}

func consoleToken(t *testing.T, subject, tenantID string) string {
	t.Helper()
	claims := ConsoleClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "fleet-console",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

type downStream struct{}

func (downStream) HealthCheck() error { return errors.New("stream subscriber not connected") }
func (downStream) Stats() ingestion.StreamStats {
	return ingestion.StreamStats{Broker: "tcp://broker:1883", Received: 7}
}

func TestDetailedHealthReportsStream(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{EnableHealth: true, EnableMetrics: true}}
	s := NewHTTPServer(cfg, Dependencies{Stream: downStream{}, Metrics: metrics.NewManager()})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string                            `json:"status"`
		Components map[string]map[string]interface{} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, false, body.Components["stream"]["healthy"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":7`)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := h.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebhookAcceptsAndReportsStorageFailure(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{"eventId":"e1"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted"`)
	assert.Equal(t, []string{`{"eventId":"e1"}`}, h.gateway.bodies)

	h.gateway.err = errors.New("database is locked")
	rec = h.do(httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database")
}

func TestWebhookToken(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Ingestion.WebhookToken = "hook-token" })

	rec := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.gateway.bodies)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{}`))
	req.Header.Set(webhookToken, "hook-token")
	rec = h.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMessageStatusCallbackSignature(t *testing.T) {
	h := newHarness(t, nil)
	path := "/callbacks/tenant-a/message-status"
	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}

	rec := h.do(signedForm(t, path, form, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.tracker.callbacks)

	rec = h.do(signedForm(t, path, form, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.tracker.callbacks, 1)
	cb := h.tracker.callbacks[0]
	assert.Equal(t, "tenant-a", cb.TenantID)
	assert.Equal(t, delivery.KindMessageStatus, cb.Kind)
	assert.Equal(t, "SM1", cb.ProviderMessageID)
	assert.Equal(t, "delivered", cb.ProviderStatus)
}

func TestCallbackWithoutSecretDependsOnEnvironment(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}

	dev := newHarness(t, nil)
	rec := dev.do(signedForm(t, "/callbacks/tenant-b/voice-status", form, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, dev.tracker.callbacks, 1)
	assert.Equal(t, delivery.KindVoiceStatus, dev.tracker.callbacks[0].Kind)

	prod := newHarness(t, func(c *config.Config) { c.App.Environment = "production" })
	rec = prod.do(signedForm(t, "/callbacks/tenant-b/voice-status", form, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, prod.tracker.callbacks)
}

func TestVoiceCallbackRespondsWithTwiML(t *testing.T) {
	h := newHarness(t, nil)
	path := "/callbacks/tenant-a/voice-callback"

	rec := h.do(signedForm(t, path, url.Values{"CallSid": {"CA1"}, "Digits": {"1"}}, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), voiceThanks)
	require.Len(t, h.tracker.callbacks, 1)
	assert.Equal(t, delivery.KindVoiceInput, h.tracker.callbacks[0].Kind)
	assert.Equal(t, "1", h.tracker.callbacks[0].Digits)

	rec = h.do(signedForm(t, path, url.Values{"CallSid": {"CA1"}}, testSecret))
	assert.Contains(t, rec.Body.String(), voiceNoInput)
	assert.Len(t, h.tracker.callbacks, 1)
}

func TestInboundMessageForwardsReply(t *testing.T) {
	h := newHarness(t, nil)
	form := url.Values{"From": {"whatsapp:+15550100"}, "Body": {"ok"}}

	rec := h.do(signedForm(t, "/callbacks/tenant-a/message-inbound", form, testSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tenant-a/whatsapp:+15550100/ok"}, h.acks.replyCalls)
}

func TestAckRequiresBearerToken(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(httptest.NewRequest(http.MethodPost, "/alerts/al-1/ack", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/alerts/al-1/ack", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, h.acks.uiCalls)
}

func TestAckUsesTokenTenant(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/alerts/al-1/ack", nil)
	req.Header.Set("Authorization", "Bearer "+consoleToken(t, "user-7", "tenant-a"))
	rec := h.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tenant-a/al-1/user-7"}, h.acks.uiCalls)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, ack.MessageAcknowledged, body["message"])
}

func TestAckMissingAlert(t *testing.T) {
	h := newHarness(t, nil)
	h.acks.err = utils.NewAppError(utils.ErrCodeNotFound, "alert not found")

	req := httptest.NewRequest(http.MethodPost, "/alerts/al-404/ack", nil)
	req.Header.Set("Authorization", "Bearer "+consoleToken(t, "user-7", "tenant-a"))
	rec := h.do(req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), ack.MessageNotFound)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Ingestion.RateLimitQPS = 1
		c.Ingestion.RateLimitBurst = 1
	})

	first := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{}`)))
	second := h.do(httptest.NewRequest(http.MethodPost, "/webhooks/samsara", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
