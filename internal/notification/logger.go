// File: internal/notification/logger.go
package notification

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// DispatchLogger handles logging for notification dispatch
type DispatchLogger struct {
	entry *logrus.Entry
}

// NewDispatchLogger creates a dispatch logger tagged with component
func NewDispatchLogger(component string) *DispatchLogger {
	return &DispatchLogger{entry: utils.ComponentLogger(component)}
}

// WithFields returns a logger carrying extra fields
func (dl *DispatchLogger) WithFields(fields logrus.Fields) *DispatchLogger {
	return &DispatchLogger{entry: dl.entry.WithFields(fields)}
}

// Entry exposes the underlying logrus entry
func (dl *DispatchLogger) Entry() *logrus.Entry {
	return dl.entry
}

func (dl *DispatchLogger) messageFields(msg *Message) logrus.Fields {
	return logrus.Fields{
		"tenant_id": msg.TenantID,
		"alert_id":  msg.AlertID,
		"result_id": msg.ResultID,
		"channel":   msg.Channel,
		"to":        MaskAddress(msg.To),
	}
}

// LogSendAttempt logs a transport send attempt
func (dl *DispatchLogger) LogSendAttempt(msg *Message) {
	dl.entry.WithFields(dl.messageFields(msg)).Debug("Sending notification")
}

// LogSendSuccess logs an accepted send
func (dl *DispatchLogger) LogSendSuccess(msg *Message, providerID string, duration time.Duration) {
	dl.entry.WithFields(dl.messageFields(msg)).WithFields(logrus.Fields{
		"provider_message_id": providerID,
		"duration":            duration,
	}).Info("Notification accepted by provider")
}

// LogSendFailure logs a rejected or failed send
func (dl *DispatchLogger) LogSendFailure(msg *Message, err error, duration time.Duration) {
	dl.entry.WithFields(dl.messageFields(msg)).WithFields(logrus.Fields{
		"error":    err,
		"duration": duration,
	}).Warn("Notification send failed")
}

// LogBreakerStateChange logs a circuit breaker transition
func (dl *DispatchLogger) LogBreakerStateChange(name string, from, to gobreaker.State) {
	level := logrus.InfoLevel
	if to == gobreaker.StateOpen {
		level = logrus.WarnLevel
	}
	dl.entry.WithFields(logrus.Fields{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	}).Log(level, "Transport circuit breaker changed state")
}

// LogDedupeHit logs a dispatch suppressed by its dedupe key
func (dl *DispatchLogger) LogDedupeHit(tenantID, alertID, key string) {
	dl.entry.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"alert_id":   alertID,
		"dedupe_key": key,
	}).Info("Dispatch already claimed, skipping")
}

// MaskAddress hides all but the last four characters of a destination
func MaskAddress(address string) string {
	if len(address) <= 4 {
		return address
	}
	masked := make([]byte, len(address))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(address)-4:], address[len(address)-4:])
	return string(masked)
}
