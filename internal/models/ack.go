package models

import "time"

// AckType identifies where an acknowledgement came from
type AckType string

const (
	AckTypeUI    AckType = "ui"
	AckTypeIVR   AckType = "ivr"
	AckTypeReply AckType = "reply"
)

// NotificationAck records that a human confirmed an alert
type NotificationAck struct {
	ID                   string                 `json:"id" db:"id"`
	TenantID             string                 `json:"tenant_id" db:"tenant_id"`
	AlertID              string                 `json:"alert_id" db:"alert_id"`
	NotificationResultID string                 `json:"notification_result_id,omitempty" db:"notification_result_id"`
	AckType              AckType                `json:"ack_type" db:"ack_type"`
	Payload              map[string]interface{} `json:"payload,omitempty" db:"payload"`
	CreatedAt            time.Time              `json:"created_at" db:"created_at"`
}

// IVR digit meanings
const (
	IVRConfirmedPanic  = "confirmed_panic"
	IVRFalseAlarm      = "false_alarm"
	IVRNeedsAssistance = "need_assistance"
	IVRUnknownDigit    = "unknown_digit"
)

// IVRMeaning maps a pressed digit to its structured meaning.
func IVRMeaning(digit string) string {
	switch digit {
	case "1":
		return IVRConfirmedPanic
	case "2":
		return IVRFalseAlarm
	case "3":
		return IVRNeedsAssistance
	}
	return IVRUnknownDigit
}
