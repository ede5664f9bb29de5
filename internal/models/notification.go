package models

import (
	"strings"
	"time"
)

// Channel is a notification transport channel
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelCall     Channel = "call"
)

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelWhatsApp, ChannelCall:
		return true
	}
	return false
}

// SupportsReadReceipts reports whether providers send read receipts on c.
func (c Channel) SupportsReadReceipts() bool {
	return c == ChannelWhatsApp
}

// DeliveryStatus is the projected state of one notification attempt
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusUnknown   DeliveryStatus = "unknown"
)

// Rank orders the forward-progress statuses. Queued, failed and unknown
// have no rank.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered:
		return 2
	case DeliveryStatusRead:
		return 3
	}
	return 0
}

// NormalizeProviderStatus maps a raw provider message or call status onto a
// DeliveryStatus.
func NormalizeProviderStatus(raw string) DeliveryStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "accepted", "scheduled", "sending", "sent", "initiated", "ringing":
		return DeliveryStatusSent
	case "delivered", "in-progress", "answered", "completed":
		return DeliveryStatusDelivered
	case "read":
		return DeliveryStatusRead
	case "failed", "undelivered", "busy", "no-answer", "canceled":
		return DeliveryStatusFailed
	}
	return DeliveryStatusUnknown
}

// NextStatus applies the monotonic projection rule. It returns the status
// that should become current and whether that is a change.
//
// Forward progress only: sent < delivered < read, read only on channels with
// read receipts. Failed is accepted only while nothing beyond sent has been
// recorded. A result is queued from creation until the transport accepts it.
func NextStatus(channel Channel, current, incoming DeliveryStatus) (DeliveryStatus, bool) {
	switch incoming {
	case DeliveryStatusFailed:
		if current == DeliveryStatusSent || current == DeliveryStatusQueued || current == "" {
			return DeliveryStatusFailed, true
		}
		return current, false
	case DeliveryStatusRead:
		if !channel.SupportsReadReceipts() {
			return current, false
		}
	case DeliveryStatusUnknown:
		return current, false
	}

	if current == DeliveryStatusFailed {
		// a late delivery receipt still counts as forward progress
		if incoming.Rank() >= DeliveryStatusDelivered.Rank() {
			return incoming, true
		}
		return current, false
	}
	if incoming.Rank() > current.Rank() {
		return incoming, true
	}
	return current, false
}

// NotificationResult is one dispatch attempt to one recipient over one
// channel for one alert.
type NotificationResult struct {
	ID                string         `json:"id" db:"id"`
	TenantID          string         `json:"tenant_id" db:"tenant_id"`
	AlertID           string         `json:"alert_id" db:"alert_id"`
	Channel           Channel        `json:"channel" db:"channel"`
	RecipientRole     string         `json:"recipient_role" db:"recipient_role"`
	Destination       string         `json:"destination" db:"destination"`
	ProviderMessageID string         `json:"provider_message_id,omitempty" db:"provider_message_id"`
	StatusCurrent     DeliveryStatus `json:"status_current" db:"status_current"`
	ErrorCode         string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage      string         `json:"error_message,omitempty" db:"error_message"`
	DispatchedAt      time.Time      `json:"dispatched_at" db:"dispatched_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// NotificationDeliveryEvent records one provider callback for a
// NotificationResult. Append-only.
type NotificationDeliveryEvent struct {
	ID                   int64          `json:"id" db:"id"`
	NotificationResultID string         `json:"notification_result_id" db:"notification_result_id"`
	Status               DeliveryStatus `json:"status" db:"status"`
	ProviderStatus       string         `json:"provider_status" db:"provider_status"`
	ErrorCode            string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage         string         `json:"error_message,omitempty" db:"error_message"`
	ReceivedAt           time.Time      `json:"received_at" db:"received_at"`
}
