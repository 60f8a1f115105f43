package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/internal/metrics"
	"github.com/BaSui01/voxelforge/internal/pool"
	"github.com/BaSui01/voxelforge/internal/telemetry"
	"github.com/BaSui01/voxelforge/job"
	"github.com/BaSui01/voxelforge/types"
)

type fixture struct {
	runner   *Runner
	registry *job.Registry
	store    *artifact.Store
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, backend job.Backend, planner *asset.Planner, synth *asset.Synthesizer) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	registry := job.NewRegistry(backend, job.WithLogger(logger))
	store, err := artifact.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	workers := pool.New(pool.Config{Workers: 4, QueueSize: 16})

	spans := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(spans))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, registry.Close(ctx))
		workers.Close()
		_ = tp.Shutdown(context.Background())
	})

	r := New(registry, planner, synth, store, workers,
		WithLogger(logger),
		WithTracer(tp.Tracer("test")),
		WithMetrics(metrics.NewCollectorWith(prometheus.NewRegistry(), "test", logger)),
	)
	return &fixture{runner: r, registry: registry, store: store, spans: spans}
}

func (f *fixture) wait(t *testing.T, id string) *job.Job {
	t.Helper()
	var last *job.Job
	require.Eventually(t, func() bool {
		j, ok := f.registry.Get(context.Background(), id)
		if !ok {
			return false
		}
		last = j
		return j.Status.IsTerminal()
	}, 30*time.Second, 10*time.Millisecond)
	return last
}

func messages(j *job.Job) []string {
	out := make([]string, len(j.Progress))
	for i, p := range j.Progress {
		out[i] = p.Msg
	}
	return out
}

func TestRunner_DragonSingleLOD(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "Dragon", Seed: 42, Resolution: 64})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusCompleted, j.Status, "progress: %v", messages(j))
	require.NotNil(t, j.Plan)
	assert.Equal(t, []int{64}, j.Plan.LODs)

	ids := make([]string, len(j.Plan.Parts))
	for i, p := range j.Plan.Parts {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"body", "left_wing", "right_wing", "left_leg", "right_leg", "neck", "tail"}, ids)

	require.Len(t, j.Artifacts, 1)
	desc := j.Artifacts["64"]
	assert.Equal(t, 64, desc.Res)
	assert.Regexp(t, `^/artifacts/voxels/asset_[0-9a-f]{16}_lod64\.json$`, desc.Path)

	set, err := f.store.Load(context.Background(), desc.Name())
	require.NoError(t, err)
	assert.NotEmpty(t, set.Voxels)
	assert.Equal(t, len(set.Voxels), set.Meta.VoxelCount)

	msgs := messages(j)
	require.GreaterOrEqual(t, len(msgs), 4+7)
	assert.Equal(t, "Planning asset generation", msgs[0])
	assert.Equal(t, "Generated plan with 7 parts", msgs[1])
	assert.Equal(t, "Generating LOD 64", msgs[2])
	for i, part := range ids {
		assert.True(t, strings.HasPrefix(msgs[3+i], "Generated "+part+" ("), msgs[3+i])
	}
	assert.Equal(t, fmt.Sprintf("Exported LOD 64 to %s (%d voxels)", desc.Path, len(set.Voxels)), msgs[10])
	assert.Len(t, msgs, 11)
}

func TestRunner_UnknownSubjectUsesSingleBody(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "rock"})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusCompleted, j.Status)
	require.Len(t, j.Plan.Parts, 1)
	assert.Equal(t, "body", j.Plan.Parts[0].ID)
	assert.Contains(t, messages(j), "Generated plan with 1 parts")

	set, err := f.store.Load(context.Background(), j.Artifacts["64"].Name())
	require.NoError(t, err)
	assert.NotEmpty(t, set.Voxels)
}

func TestRunner_EmptyGeometryFails(t *testing.T) {
	synth := asset.NewSynthesizer()
	synth.Strategies().Register(asset.KindBody, func(b *asset.Builder, box asset.BBox, step int) {})
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), synth)

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "rock", Resolution: 128})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, types.ErrEmptyGeometry, j.Error.Code)
	assert.Equal(t, "empty geometry at LOD 64", j.Error.Message)
	assert.Empty(t, j.Artifacts)
	assert.NotContains(t, messages(j), "Generating LOD 128", "no further LODs after empty geometry")
}

func TestRunner_PanickingPartDegrades(t *testing.T) {
	synth := asset.NewSynthesizer()
	synth.Strategies().Register(asset.KindTail, func(b *asset.Builder, box asset.BBox, step int) {
		panic("tail strategy exploded")
	})
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), synth)

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Seed: 7})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusCompleted, j.Status)

	var degraded string
	for _, m := range messages(j) {
		if strings.HasPrefix(m, "Part tail degraded at LOD 64: ") {
			degraded = m
		}
		assert.False(t, strings.HasPrefix(m, "Generated tail ("), "failed part must not report voxels")
	}
	assert.Contains(t, degraded, "tail strategy exploded")
	assert.Len(t, j.Artifacts, 1)

	var found bool
	for _, s := range f.spans.Ended() {
		if s.Name() != telemetry.SpanLOD {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == telemetry.AttrDegraded {
				found = true
				assert.Equal(t, int64(1), kv.Value.AsInt64())
			}
		}
	}
	assert.True(t, found)
}

func TestRunner_LODLadderIsMonotonic(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Resolution: 256})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusCompleted, j.Status)
	assert.Equal(t, []int{64, 128, 256}, j.Plan.LODs)
	assert.Len(t, j.Artifacts, 3)

	var lods []int
	for _, m := range messages(j) {
		var lod int
		if _, err := fmt.Sscanf(m, "Generating LOD %d", &lod); err == nil {
			lods = append(lods, lod)
		}
	}
	assert.Equal(t, []int{64, 128, 256}, lods)

	for _, lod := range []int{64, 128, 256} {
		desc := j.Artifacts[job.LODKey(lod)]
		assert.Equal(t, lod, desc.Res)
		assert.Contains(t, desc.Path, fmt.Sprintf("_lod%d.json", lod))
	}

	var lodSpans int
	for _, s := range f.spans.Ended() {
		if s.Name() == telemetry.SpanLOD {
			lodSpans++
		}
	}
	assert.Equal(t, 3, lodSpans)
}

func TestRunner_UpscaleDeferred(t *testing.T) {
	planner := asset.NewPlanner(asset.WithLODCap(128))
	f := newFixture(t, job.NewMemoryBackend(), planner, asset.NewSynthesizer())

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "rock", Resolution: 500})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusCompleted, j.Status)
	msgs := messages(j)
	assert.Equal(t, "Target resolution 500 exceeds highest generated LOD 128; upscale deferred", msgs[len(msgs)-1])
}

func TestRunner_StorageErrorFails(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	voxels := filepath.Join(f.store.Root(), artifact.VoxelsDir)
	require.NoError(t, os.RemoveAll(voxels))
	require.NoError(t, os.WriteFile(voxels, []byte("not a directory"), 0o644))

	id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "rock"})
	require.NoError(t, err)

	j := f.wait(t, id)
	require.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, types.ErrStorage, j.Error.Code)
	assert.Empty(t, j.Artifacts)
	assert.Contains(t, messages(j), "Generating LOD 64", "progress history is kept on failure")
}

func TestRunner_SubmitRejectsInvalidPrompt(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	_, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Mode: "mesh"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestRunner_ConcurrentJobsKeepOrderedLogs(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i, seed := range []int64{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Seed: seed, Resolution: 128})
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		j := f.wait(t, id)
		require.Equal(t, job.StatusCompleted, j.Status)
		msgs := messages(j)

		expected := []string{"Planning asset generation", "Generated plan with 7 parts"}
		for _, lod := range []int{64, 128} {
			expected = append(expected, fmt.Sprintf("Generating LOD %d", lod))
			for _, p := range j.Plan.Parts {
				expected = append(expected, "Generated "+p.ID+" (")
			}
			expected = append(expected, fmt.Sprintf("Exported LOD %d to ", lod))
		}
		require.Len(t, msgs, len(expected))
		for i := range expected {
			assert.True(t, strings.HasPrefix(msgs[i], expected[i]), "job %s entry %d: %q", id, i, msgs[i])
		}
		for i := 1; i < len(j.Progress); i++ {
			assert.False(t, j.Progress[i].T.Before(j.Progress[i-1].T))
		}
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestRunner_ExportIsIdempotentAcrossJobs(t *testing.T) {
	f := newFixture(t, job.NewMemoryBackend(), asset.DefaultPlanner(), asset.NewSynthesizer())

	first, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Seed: 42})
	require.NoError(t, err)
	a := f.wait(t, first)
	second, err := f.runner.Submit(context.Background(), job.Prompt{Subject: "dragon", Seed: 42})
	require.NoError(t, err)
	b := f.wait(t, second)

	require.Equal(t, job.StatusCompleted, a.Status)
	require.Equal(t, job.StatusCompleted, b.Status)
	assert.Equal(t, a.Artifacts["64"], b.Artifacts["64"])
}

func TestRunner_RecoverResumesInterruptedJobs(t *testing.T) {
	backend, err := job.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	now := time.Now().UTC()
	interrupted := &job.Job{
		ID:        "job_aaaaaaaaaaaa",
		Status:    job.StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		Prompt:    job.Prompt{Subject: "rock", Resolution: 64, Mode: job.ModeVoxel},
		Progress:  []job.ProgressEntry{{T: now, Msg: "Planning asset generation"}},
	}
	queued := &job.Job{
		ID:        "job_bbbbbbbbbbbb",
		Status:    job.StatusQueued,
		CreatedAt: now.Add(time.Second),
		UpdatedAt: now.Add(time.Second),
		Prompt:    job.Prompt{Subject: "dragon", Resolution: 64, Mode: job.ModeVoxel},
	}
	ctx := context.Background()
	require.NoError(t, backend.Save(ctx, interrupted))
	require.NoError(t, backend.Save(ctx, queued))

	f := newFixture(t, backend, asset.DefaultPlanner(), asset.NewSynthesizer())
	n, err := f.runner.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a := f.wait(t, interrupted.ID)
	assert.Equal(t, job.StatusCompleted, a.Status)
	assert.Contains(t, messages(a), "Resumed after restart")
	assert.Len(t, a.Artifacts, 1)

	b := f.wait(t, queued.ID)
	assert.Equal(t, job.StatusCompleted, b.Status)
	assert.Equal(t, "Planning asset generation", b.Progress[0].Msg)
}
