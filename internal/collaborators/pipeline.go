package collaborators

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

// Verdict is the AI pipeline's triage result for an alert
type Verdict struct {
	Verdict  string          `json:"verdict"`
	Message  string          `json:"message"`
	Severity models.Severity `json:"severity,omitempty"`
	Notify   bool            `json:"notify"`
}

// Pipeline evaluates alerts
type Pipeline interface {
	Evaluate(ctx context.Context, alert *models.Alert, signal *models.Signal) (*Verdict, error)
}

type evaluateRequest struct {
	TenantID string         `json:"tenant_id"`
	Alert    *models.Alert  `json:"alert"`
	Signal   *models.Signal `json:"signal,omitempty"`
}

// HTTPPipeline calls the triage service over HTTP. Retries are left to the
// task queue.
type HTTPPipeline struct {
	client *resty.Client
	logger *logrus.Entry
}

// NewHTTPPipeline creates a pipeline client from configuration
func NewHTTPPipeline(cfg config.PipelineConfig) *HTTPPipeline {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-API-Key", cfg.APIKey)
	}
	return &HTTPPipeline{client: client, logger: utils.ComponentLogger("pipeline")}
}

// Evaluate posts the alert and its signal and decodes the verdict
func (p *HTTPPipeline) Evaluate(ctx context.Context, alert *models.Alert, signal *models.Signal) (*Verdict, error) {
	var verdict Verdict
	req := p.client.R().
		SetContext(ctx).
		SetBody(evaluateRequest{TenantID: alert.TenantID, Alert: alert, Signal: signal}).
		SetResult(&verdict)
	if traceID := utils.AmbientTraceID(ctx); traceID != "" {
		req.SetHeader("X-Request-ID", traceID)
	}

	resp, err := req.Post("/evaluate")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeExternal, "AI pipeline call failed", err.Error())
	}
	if resp.IsError() {
		p.logger.WithFields(logrus.Fields{
			"alert_id":    alert.ID,
			"status_code": resp.StatusCode(),
		}).Warn("AI pipeline returned an error status")
		return nil, utils.NewAppError(utils.ErrCodeExternal, "AI pipeline returned an error",
			fmt.Sprintf("status %d", resp.StatusCode()))
	}
	if verdict.Severity != "" {
		verdict.Severity = models.ParseSeverity(string(verdict.Severity))
	}
	return &verdict, nil
}
