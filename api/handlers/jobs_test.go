package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/internal/pool"
	"github.com/BaSui01/voxelforge/job"
	"github.com/BaSui01/voxelforge/runner"
	"github.com/BaSui01/voxelforge/types"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

type fakeSubmitter struct {
	got job.Prompt
	id  string
	err error
}

func (f *fakeSubmitter) Submit(ctx context.Context, prompt job.Prompt) (string, error) {
	f.got = prompt
	return f.id, f.err
}

type fakeJobs map[string]*job.Job

func (f fakeJobs) Get(ctx context.Context, id string) (*job.Job, bool) {
	j, ok := f[id]
	return j, ok
}

func newRouter(h *AssetHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	r.Get(artifact.URLPrefix+"{file}", h.HandleArtifact)
	return r
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func postAsset(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// 🧪 AssetHandler 测试
// =============================================================================

func TestAssetHandler_Submit(t *testing.T) {
	sub := &fakeSubmitter{id: "job_0123456789ab"}
	router := newRouter(NewAssetHandler(sub, fakeJobs{}, nil, zap.NewNop()))

	w := postAsset(router, `{"subject":"dragon","style":"low-poly","seed":42,"resolution":256}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/jobs/job_0123456789ab", w.Header().Get("Location"))
	env := decode(t, w)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"jobId":"job_0123456789ab","status":"queued"}`, string(env.Data))
	assert.Equal(t, job.Prompt{Subject: "dragon", Style: "low-poly", Seed: 42, Resolution: 256}, sub.got)
}

func TestAssetHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		submitErr   error
		wantStatus  int
		wantCode    types.ErrorCode
	}{
		{
			name:        "wrong content type",
			contentType: "text/plain",
			body:        `{"subject":"dragon"}`,
			wantStatus:  http.StatusUnsupportedMediaType,
			wantCode:    types.ErrInvalidRequest,
		},
		{
			name:        "malformed body",
			contentType: "application/json",
			body:        `{"subject":`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    types.ErrInvalidRequest,
		},
		{
			name:        "rejected prompt",
			contentType: "application/json",
			body:        `{"subject":"dragon","mode":"mesh"}`,
			submitErr:   types.NewError(types.ErrInvalidRequest, `unsupported mode "mesh"`),
			wantStatus:  http.StatusBadRequest,
			wantCode:    types.ErrInvalidRequest,
		},
		{
			name:        "shutting down",
			contentType: "application/json",
			body:        `{"subject":"dragon"}`,
			submitErr:   types.NewError(types.ErrServiceUnavailable, "registry is shutting down"),
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    types.ErrServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.submitErr}
			router := newRouter(NewAssetHandler(sub, fakeJobs{}, nil, zap.NewNop()))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/assets", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			env := decode(t, w)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, string(tt.wantCode), env.Error.Code)
		})
	}
}

func TestAssetHandler_GetJob(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	jobs := fakeJobs{
		"job_aaaaaaaaaaaa": {
			ID:        "job_aaaaaaaaaaaa",
			Status:    job.StatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
			Prompt:    job.Prompt{Subject: "dragon", Resolution: 64, Mode: job.ModeVoxel},
			Progress:  []job.ProgressEntry{{T: now, Msg: "Planning asset generation"}},
			Artifacts: map[string]artifact.Descriptor{},
		},
	}
	router := newRouter(NewAssetHandler(&fakeSubmitter{}, jobs, nil, zap.NewNop()))

	t.Run("found", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job_aaaaaaaaaaaa", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		env := decode(t, w)
		var got job.Job
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, "job_aaaaaaaaaaaa", got.ID)
		assert.Equal(t, job.StatusRunning, got.Status)
		assert.Equal(t, "Planning asset generation", got.Progress[0].Msg)
	})

	t.Run("missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job_ffffffffffff", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		env := decode(t, w)
		require.NotNil(t, env.Error)
		assert.Equal(t, string(types.ErrJobNotFound), env.Error.Code)
	})
}

func TestAssetHandler_Artifact(t *testing.T) {
	store, err := artifact.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	plan, err := asset.DefaultPlanner().Plan("rock", "", "", 1, 64)
	require.NoError(t, err)
	set := asset.Assemble([]asset.Fragment{asset.NewSynthesizer().Procedural(plan.PartsAt(64)[0], 64)}, plan, 64)
	desc, err := store.Export(context.Background(), set, plan, 64)
	require.NoError(t, err)

	router := newRouter(NewAssetHandler(&fakeSubmitter{}, fakeJobs{}, store, zap.NewNop()))

	t.Run("served", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, desc.Path, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

		var served asset.VoxelSet
		require.NoError(t, json.NewDecoder(w.Body).Decode(&served))
		assert.Equal(t, 64, served.Res)
		assert.Len(t, served.Palette, asset.PaletteSize)
		assert.Equal(t, len(set.Voxels), len(served.Voxels))
	})

	t.Run("unknown", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, artifact.URLPrefix+"asset_0000000000000000_lod64.json", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, string(types.ErrArtifactNotFound), decode(t, w).Error.Code)
	})

	t.Run("invalid name", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "secret.json"), []byte(`{}`), 0o644))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, artifact.URLPrefix+"..%2Fsecret.json", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(types.ErrInvalidRequest), decode(t, w).Error.Code)
	})
}

func TestAssetHandler_EndToEnd(t *testing.T) {
	registry := job.NewRegistry(job.NewMemoryBackend())
	store, err := artifact.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	workers := pool.New(pool.Config{Workers: 2, QueueSize: 8})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
		workers.Close()
	})

	r := runner.New(registry, asset.DefaultPlanner(), asset.NewSynthesizer(), store, workers)
	router := newRouter(NewAssetHandler(r, registry, store, zap.NewNop()))

	w := postAsset(router, `{"subject":"dragon","seed":42,"resolution":64}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted struct {
		JobID string `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &accepted))

	var manifest job.Job
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+accepted.JobID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		var env envelope
		if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
			return false
		}
		if err := json.Unmarshal(env.Data, &manifest); err != nil {
			return false
		}
		return manifest.Status.IsTerminal()
	}, 30*time.Second, 20*time.Millisecond)

	require.Equal(t, job.StatusCompleted, manifest.Status)
	desc, ok := manifest.Artifacts["64"]
	require.True(t, ok)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, desc.Path, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
