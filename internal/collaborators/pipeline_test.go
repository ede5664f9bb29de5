package collaborators

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/fleet-alert-relay/internal/config"
	"github.com/smartdevs17/fleet-alert-relay/internal/models"
	"github.com/smartdevs17/fleet-alert-relay/pkg/utils"
)

func TestHTTPPipelineEvaluate(t *testing.T) {
	var got evaluateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "trace-7", r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"verdict":"confirmed","message":"Hard braking at 80km/h","severity":"high","notify":true}`))
	}))
	defer srv.Close()

	p := NewHTTPPipeline(config.PipelineConfig{URL: srv.URL, APIKey: "secret"})
	ctx := utils.WithTraceID(context.Background(), "trace-7")
	verdict, err := p.Evaluate(ctx, &models.Alert{ID: "a1", TenantID: "acme"}, &models.Signal{VehicleName: "T-001"})
	require.NoError(t, err)

	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, "T-001", got.Signal.VehicleName)
	assert.Equal(t, "confirmed", verdict.Verdict)
	assert.Equal(t, models.SeverityCritical, verdict.Severity)
	assert.True(t, verdict.Notify)
}

func TestHTTPPipelineErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPPipeline(config.PipelineConfig{URL: srv.URL})
	_, err := p.Evaluate(context.Background(), &models.Alert{ID: "a1", TenantID: "acme"}, nil)
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeExternal, utils.ErrorCode(err))
}
