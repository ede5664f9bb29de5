// File: internal/notification/transport_wrapper.go
package notification

import (
	"context"
	"time"

	"github.com/smartdevs17/fleet-alert-relay/internal/metrics"
)

// TransportWithMetrics wraps a Transport with metrics
type TransportWithMetrics struct {
	Transport
	metrics *metrics.PrometheusMetrics
}

// NewTransportWithMetrics creates a transport wrapper with metrics
func NewTransportWithMetrics(transport Transport, m *metrics.PrometheusMetrics) *TransportWithMetrics {
	return &TransportWithMetrics{Transport: transport, metrics: m}
}

// Send sends a message and records metrics
func (t *TransportWithMetrics) Send(ctx context.Context, msg *Message) (string, error) {
	start := time.Now()
	id, err := t.Transport.Send(ctx, msg)
	if err != nil {
		t.metrics.RecordNotificationFailure(string(msg.Channel), AsTransportError(err).Code)
		return "", err
	}
	t.metrics.RecordNotificationSent(string(msg.Channel), time.Since(start))
	return id, nil
}
