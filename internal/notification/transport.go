// File: internal/notification/transport.go
package notification

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/internal/tenant"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Message is one outbound notification to one destination
type Message struct {
	TenantID    string
	AlertID     string
	ResultID    string
	Channel     models.Channel
	To          string
	Body        string
	Credentials tenant.Credentials
}

// Transport sends a message and returns the provider's message or call id
type Transport interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// Transport error codes that did not come from the provider
const (
	ErrCodeTransport   = "transport_error"
	ErrCodeCircuitOpen = "circuit_open"
	ErrCodeNoProvider  = "no_provider_id"
)

// TransportError carries the provider's error detail for a rejected send
type TransportError struct {
	Code       string
	Message    string
	StatusCode int
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s (http %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport %s: %s", e.Code, e.Message)
}

// Temporary reports whether the failure says nothing about the message
// itself. Client errors are not temporary and do not trip the breaker.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AsTransportError converts any send error into a TransportError
func AsTransportError(err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Code: ErrCodeCircuitOpen, Message: err.Error()}
	}
	if code := utils.ErrorCode(err); code != "" {
		return &TransportError{Code: strings.ToLower(code), Message: err.Error(), StatusCode: http.StatusBadRequest}
	}
	return &TransportError{Code: ErrCodeTransport, Message: err.Error()}
}

type providerResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type providerError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

// ProviderTransport drives a Twilio-compatible REST API. Each channel has
// its own circuit breaker; all channels share one rate limiter.
type ProviderTransport struct {
	client       *resty.Client
	callbackBase string
	limiter      *rate.Limiter
	breakers     map[models.Channel]*gobreaker.CircuitBreaker
	logger       *DispatchLogger
}

// NewProviderTransport creates a transport from configuration
func NewProviderTransport(cfg config.NotificationConfig) *ProviderTransport {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	t := &ProviderTransport{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.ProviderBaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		callbackBase: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		breakers:     make(map[models.Channel]*gobreaker.CircuitBreaker),
		logger:       NewDispatchLogger("transport"),
	}
	if cfg.TransportRateLimit > 0 {
		burst := cfg.TransportRateBurst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.TransportRateLimit), burst)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	for _, ch := range []models.Channel{models.ChannelSMS, models.ChannelWhatsApp, models.ChannelCall} {
		t.breakers[ch] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "transport-" + string(ch),
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: func(err error) bool {
				var te *TransportError
				if errors.As(err, &te) {
					return !te.Temporary()
				}
				return err == nil
			},
			OnStateChange: t.logger.LogBreakerStateChange,
		})
	}
	return t
}

// Send delivers msg over its channel
func (t *ProviderTransport) Send(ctx context.Context, msg *Message) (string, error) {
	if msg.Credentials.AccountSID == "" {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Provider credentials missing", msg.TenantID)
	}
	breaker, ok := t.breakers[msg.Channel]
	if !ok {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Unsupported channel", string(msg.Channel))
	}
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", &TransportError{Code: ErrCodeTransport, Message: err.Error()}
		}
	}

	start := time.Now()
	t.logger.LogSendAttempt(msg)
	out, err := breaker.Execute(func() (interface{}, error) {
		if msg.Channel == models.ChannelCall {
			return t.placeCall(ctx, msg)
		}
		return t.sendMessage(ctx, msg)
	})
	if err != nil {
		te := AsTransportError(err)
		t.logger.LogSendFailure(msg, te, time.Since(start))
		return "", te
	}

	sid := out.(string)
	t.logger.LogSendSuccess(msg, sid, time.Since(start))
	return sid, nil
}

func (t *ProviderTransport) sendMessage(ctx context.Context, msg *Message) (string, error) {
	creds := msg.Credentials
	from, to := creds.SMSFrom, msg.To
	if msg.Channel == models.ChannelWhatsApp {
		from, to = whatsAppAddress(creds.WhatsAppFrom), whatsAppAddress(msg.To)
	}

	form := map[string]string{
		"To":             to,
		"From":           from,
		"Body":           msg.Body,
		"StatusCallback": t.callbackURL(msg.TenantID, "message-status"),
	}
	return t.post(ctx, creds, "Messages.json", form)
}

func (t *ProviderTransport) placeCall(ctx context.Context, msg *Message) (string, error) {
	creds := msg.Credentials
	twiml, err := GatherTwiML(msg.Body, t.callbackURL(msg.TenantID, "voice-callback"))
	if err != nil {
		return "", &TransportError{Code: ErrCodeTransport, Message: err.Error()}
	}
	form := map[string]string{
		"To":                   msg.To,
		"From":                 creds.VoiceFrom,
		"Twiml":                twiml,
		"StatusCallback":       t.callbackURL(msg.TenantID, "voice-status"),
		"StatusCallbackEvent":  "initiated ringing answered completed",
		"StatusCallbackMethod": http.MethodPost,
	}
	return t.post(ctx, creds, "Calls.json", form)
}

func (t *ProviderTransport) post(ctx context.Context, creds tenant.Credentials, resource string, form map[string]string) (string, error) {
	var result providerResponse
	var perr providerError
	resp, err := t.client.R().
		SetContext(ctx).
		SetBasicAuth(creds.AccountSID, creds.AuthToken).
		SetFormData(form).
		SetResult(&result).
		SetError(&perr).
		Post(fmt.Sprintf("/Accounts/%s/%s", creds.AccountSID, resource))
	if err != nil {
		return "", &TransportError{Code: ErrCodeTransport, Message: err.Error()}
	}
	if resp.IsError() {
		code := strconv.Itoa(resp.StatusCode())
		if perr.Code != 0 {
			code = strconv.Itoa(perr.Code)
		}
		message := perr.Message
		if message == "" {
			message = resp.Status()
		}
		return "", &TransportError{Code: code, Message: message, StatusCode: resp.StatusCode()}
	}
	if result.SID == "" {
		return "", &TransportError{Code: ErrCodeNoProvider, Message: "provider accepted the request without an id", StatusCode: resp.StatusCode()}
	}
	return result.SID, nil
}

func (t *ProviderTransport) callbackURL(tenantID, kind string) string {
	return fmt.Sprintf("%s/callbacks/%s/%s", t.callbackBase, tenantID, kind)
}

func whatsAppAddress(address string) string {
	if strings.HasPrefix(address, "whatsapp:") {
		return address
	}
	return "whatsapp:" + address
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName   xml.Name `xml:"Gather"`
	NumDigits int      `xml:"numDigits,attr"`
	Action    string   `xml:"action,attr,omitempty"`
	Method    string   `xml:"method,attr,omitempty"`
	Say       twimlSay
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Gather  *twimlGather `xml:",omitempty"`
	Say     *twimlSay    `xml:",omitempty"`
}

// IVRPrompt is read after the alert message on outbound calls
const IVRPrompt = "Press 1 to confirm the emergency, 2 if this is a false alarm, or 3 if the driver needs assistance."

// GatherTwiML renders a voice document that reads message and collects one
// digit, posting it to action.
func GatherTwiML(message, action string) (string, error) {
	doc := twimlResponse{Gather: &twimlGather{
		NumDigits: 1,
		Action:    action,
		Method:    http.MethodPost,
		Say:       twimlSay{Text: strings.TrimSpace(message + " " + IVRPrompt)},
	}}
	return marshalTwiML(doc)
}

// SayTwiML renders a voice document that reads text and hangs up
func SayTwiML(text string) (string, error) {
	return marshalTwiML(twimlResponse{Say: &twimlSay{Text: text}})
}

func marshalTwiML(doc twimlResponse) (string, error) {
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}
