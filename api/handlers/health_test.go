package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/api"
)

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

func newHealthHandler() *HealthHandler {
	return NewHealthHandler(api.VersionInfo{Version: "1.2.3", GitCommit: "abc"}, zap.NewNop())
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	handler := newHealthHandler()

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var status api.ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleHealthz(t *testing.T) {
	handler := newHealthHandler()
	handler.RegisterCheck(NewPingCheck("manifest", func(ctx context.Context) error {
		return errors.New("down")
	}))

	w := httptest.NewRecorder()
	handler.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// 活跃度探针不执行依赖检查
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]error
		wantStatus int
		wantState  string
	}{
		{name: "no checks", wantStatus: http.StatusOK, wantState: "healthy"},
		{
			name:       "all pass",
			checks:     map[string]error{"manifest": nil, "artifacts": nil},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name:       "one fails",
			checks:     map[string]error{"manifest": errors.New("redis: connection refused"), "artifacts": nil},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newHealthHandler()
			for name, err := range tt.checks {
				handler.RegisterCheck(NewPingCheck(name, func(ctx context.Context) error { return err }))
			}

			w := httptest.NewRecorder()
			handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)

			var status api.ServiceHealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantState, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			for name, err := range tt.checks {
				result := status.Checks[name]
				if err != nil {
					assert.Equal(t, "fail", result.Status)
					assert.Equal(t, err.Error(), result.Message)
				} else {
					assert.Equal(t, "pass", result.Status)
				}
				assert.NotEmpty(t, result.Latency)
			}
		})
	}
}

func TestHealthHandler_ReadyPassesDeadline(t *testing.T) {
	handler := newHealthHandler()
	var hadDeadline bool
	handler.RegisterCheck(NewPingCheck("manifest", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}))

	handler.HandleReady(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.True(t, hadDeadline)
}

func TestHealthHandler_OptionalCheckDegrades(t *testing.T) {
	handler := newHealthHandler()
	handler.RegisterCheck(NewPingCheck("manifest_backend", func(ctx context.Context) error { return nil }))
	handler.RegisterOptionalCheck(NewPingCheck("generator_cache", func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	}))

	w := httptest.NewRecorder()
	handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	// 可选依赖失败不影响就绪
	assert.Equal(t, http.StatusOK, w.Code)
	var status api.ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "degraded", status.Status)
	assert.True(t, status.Checks["generator_cache"].Optional)
	assert.Equal(t, "fail", status.Checks["generator_cache"].Status)
	assert.Equal(t, "pass", status.Checks["manifest_backend"].Status)
}

func TestHealthHandler_CriticalFailureWinsOverDegraded(t *testing.T) {
	handler := newHealthHandler()
	handler.RegisterOptionalCheck(NewPingCheck("generator_cache", func(ctx context.Context) error { return errors.New("down") }))
	handler.RegisterCheck(NewPingCheck("manifest_backend", func(ctx context.Context) error { return errors.New("down") }))

	w := httptest.NewRecorder()
	handler.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_PipelineStats(t *testing.T) {
	handler := newHealthHandler()
	handler.SetPipelineStats(func() api.PipelineStats {
		return api.PipelineStats{Workers: 8, ActiveWorkers: 3, QueuedTasks: 12}
	})

	w := httptest.NewRecorder()
	handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var status api.ServiceHealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	require.NotNil(t, status.Pipeline)
	assert.Equal(t, 8, status.Pipeline.Workers)
	assert.Equal(t, 12, status.Pipeline.QueuedTasks)
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	handler := newHealthHandler()

	w := httptest.NewRecorder()
	handler.HandleVersion(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool            `json:"success"`
		Data    api.VersionInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "1.2.3", resp.Data.Version)
	assert.Equal(t, "abc", resp.Data.GitCommit)
}
