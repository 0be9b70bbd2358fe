package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockhealth/internal/config"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/server/handlers"
	"github.com/mamadbah2/flockhealth/internal/server/middleware"
)

type fakeDispatcher struct {
	actor    models.Principal
	req      models.ActionRequest
	response models.ActionResponse
}

func (f *fakeDispatcher) Dispatch(_ context.Context, actor models.Principal, req models.ActionRequest) models.ActionResponse {
	f.actor = actor
	f.req = req
	return f.response
}

func newEngine(t *testing.T, d *fakeDispatcher) (http.Handler, string) {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}, RequestTimeout: time.Second},
		Auth:   config.AuthConfig{JWTSecret: "router-secret"},
	}
	engine := New(handlers.NewActionHandler(d, cfg.Server.RequestTimeout, nil), cfg, metrics.New(), nil)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: "mgr-1",
		Role:   models.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)
	return engine, token
}

func do(engine http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	engine, _ := newEngine(t, &fakeDispatcher{})

	rec := do(engine, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(engine, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestActions_RequireToken(t *testing.T) {
	d := &fakeDispatcher{}
	engine, _ := newEngine(t, d)

	rec := do(engine, http.MethodPost, "/api/v1/actions", "", `{"action":"get_treatment"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, d.req.Action)
}

func TestActions_Dispatch(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		response   models.ActionResponse
		wantStatus int
		wantAction models.Action
	}{
		{
			name:       "success",
			body:       `{"action":"get_treatment","payload":{"id":"T1"}}`,
			response:   models.ActionResponse{Success: true, Data: map[string]string{"id": "T1"}},
			wantStatus: http.StatusOK,
			wantAction: models.ActionGetTreatment,
		},
		{
			name:       "not found",
			body:       `{"action":"get_treatment","payload":{"id":"T404"}}`,
			response:   models.ActionResponse{Error: &models.ActionError{Code: "NOT_FOUND", Message: "treatment T404"}},
			wantStatus: http.StatusNotFound,
			wantAction: models.ActionGetTreatment,
		},
		{
			name:       "duplicate",
			body:       `{"action":"create_treatment_record","payload":{}}`,
			response:   models.ActionResponse{Error: &models.ActionError{Code: "DUPLICATE_TREATMENT", Message: "adopted"}},
			wantStatus: http.StatusConflict,
			wantAction: models.ActionCreateTreatmentRecord,
		},
		{
			name:       "computation failure",
			body:       `{"action":"calculate_batch_cost","payload":{"batchId":"B1"}}`,
			response:   models.ActionResponse{Error: &models.ActionError{Code: "COMPUTATION_FAILED", Message: "load feed"}},
			wantStatus: http.StatusInternalServerError,
			wantAction: models.ActionCalculateBatchCost,
		},
		{
			name:       "missing action",
			body:       `{"payload":{}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not json",
			body:       `action=get_treatment`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDispatcher{response: tc.response}
			engine, token := newEngine(t, d)

			rec := do(engine, http.MethodPost, "/api/v1/actions", token, tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantAction, d.req.Action)

			var resp models.ActionResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			if tc.wantStatus == http.StatusOK {
				assert.True(t, resp.Success)
				assert.Equal(t, models.Principal{ID: "mgr-1", Role: models.RoleManager}, d.actor)
				return
			}
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
		})
	}
}

func TestBatchCostRoute(t *testing.T) {
	d := &fakeDispatcher{response: models.ActionResponse{Success: true, Data: models.CostBreakdown{BatchID: "B1", TotalCost: 450}}}
	engine, token := newEngine(t, d)

	rec := do(engine, http.MethodGet, "/api/v1/batches/B1/cost", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ActionCalculateBatchCost, d.req.Action)
	assert.JSONEq(t, `{"batchId":"B1"}`, string(d.req.Payload))
	assert.Contains(t, rec.Body.String(), `"totalCost":450`)
}

func TestCORSPreflight(t *testing.T) {
	engine, _ := newEngine(t, &fakeDispatcher{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/actions", nil)
	req.Header.Set("Origin", "https://farm.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorsConfig(t *testing.T) {
	cfg := corsConfig([]string{"https://a.example"})
	assert.False(t, cfg.AllowAllOrigins)
	assert.True(t, cfg.AllowCredentials)
	assert.Equal(t, []string{"https://a.example"}, cfg.AllowOrigins)
	assert.NoError(t, cfg.Validate())

	assert.True(t, corsConfig(nil).AllowAllOrigins)
}
