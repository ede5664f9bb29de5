package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/ack"
	"github.com/smartdevs17/fleet-alert-relay/internal/delivery"
	"github.com/smartdevs17/fleet-alert-relay/internal/notification"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

const (
	voiceThanks  = "Thank you. Your response has been recorded."
	voiceNoInput = "No input received. Goodbye."
	webhookToken = "X-Webhook-Token"
)

// webhookHandler ingests a provider safety event. Anything short of a
// storage failure is acknowledged so the provider does not retry it.
func (s *HTTPServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(mux.Vars(r)["provider"])

	if s.ingestion.WebhookToken != "" {
		token := r.Header.Get(webhookToken)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if !utils.ConstantTimeEqual(token, s.ingestion.WebhookToken) {
			s.deps.Metrics.GetPrometheusMetrics().RecordWebhook(provider, "unauthorized")
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
			return
		}
	}

	body, err := readBody(w, r)
	if err != nil {
		s.logger.WithError(err).WithField("provider", provider).Warn("Unreadable webhook body")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	outcome, err := s.deps.Gateway.HandleWebhook(r.Context(), provider, body)
	if err != nil {
		s.logger.WithError(err).WithField("provider", provider).Error("Failed to store webhook event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "outcome": outcome})
}

func (s *HTTPServer) messageStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.enqueueCallback(w, r, delivery.Callback{
		Kind:              delivery.KindMessageStatus,
		ProviderMessageID: r.PostForm.Get("MessageSid"),
		ProviderStatus:    r.PostForm.Get("MessageStatus"),
		ErrorCode:         r.PostForm.Get("ErrorCode"),
		ErrorMessage:      r.PostForm.Get("ErrorMessage"),
	})
}

func (s *HTTPServer) voiceStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.enqueueCallback(w, r, delivery.Callback{
		Kind:              delivery.KindVoiceStatus,
		ProviderMessageID: r.PostForm.Get("CallSid"),
		ProviderStatus:    r.PostForm.Get("CallStatus"),
		ErrorCode:         r.PostForm.Get("ErrorCode"),
		ErrorMessage:      r.PostForm.Get("ErrorMessage"),
	})
}

func (s *HTTPServer) enqueueCallback(w http.ResponseWriter, r *http.Request, cb delivery.Callback) {
	cb.TenantID = mux.Vars(r)["tenant"]
	cb.ReceivedAt = time.Now().UTC()
	if err := s.deps.Tracker.Enqueue(r.Context(), cb); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":           cb.TenantID,
			"kind":                cb.Kind,
			"provider_message_id": cb.ProviderMessageID,
		}).Error("Failed to enqueue provider callback")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// voiceCallbackHandler receives the digit pressed on an alert call and
// answers with a short spoken confirmation.
func (s *HTTPServer) voiceCallbackHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	digits := strings.TrimSpace(r.PostForm.Get("Digits"))
	callID := r.PostForm.Get("CallSid")

	reply := voiceNoInput
	if digits != "" && callID != "" {
		err := s.deps.Tracker.Enqueue(r.Context(), delivery.Callback{
			TenantID:          tenantID,
			Kind:              delivery.KindVoiceInput,
			ProviderMessageID: callID,
			Digits:            digits,
			ReceivedAt:        time.Now().UTC(),
		})
		if err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to enqueue voice input")
		}
		reply = voiceThanks
	}

	doc, err := notification.SayTwiML(reply)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

// messageInboundHandler treats an inbound SMS or WhatsApp message as a
// reply to the newest notification sent to that number.
func (s *HTTPServer) messageInboundHandler(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant"]
	from := r.PostForm.Get("From")
	if from != "" {
		if _, err := s.deps.Acks.AcknowledgeReply(r.Context(), tenantID, from, r.PostForm.Get("Body")); err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to record reply acknowledgement")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// ackHandler records an operator acknowledgement from the console
func (s *HTTPServer) ackHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}
	alertID := mux.Vars(r)["id"]

	outcome, err := s.deps.Acks.AcknowledgeUI(r.Context(), principal.TenantID, alertID, principal.UserID)
	if err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeNotFound {
			s.writeError(w, http.StatusNotFound, ack.MessageNotFound, nil)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to acknowledge alert", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           outcome.Success,
		"message":           outcome.Message,
		"already_confirmed": outcome.AlreadyConfirmed,
	})
}

func callbackKind(path string) string {
	switch {
	case strings.HasSuffix(path, "/message-status"):
		return delivery.KindMessageStatus
	case strings.HasSuffix(path, "/voice-status"):
		return delivery.KindVoiceStatus
	case strings.HasSuffix(path, "/voice-callback"):
		return delivery.KindVoiceInput
	default:
		return "message_inbound"
	}
}
