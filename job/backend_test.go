package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/internal/database"
)

func newTestJob(id string, status Status, created time.Time) *Job {
	return &Job{
		ID:        id,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
		Prompt:    Prompt{Subject: "dragon", Resolution: 64, Mode: ModeVoxel},
		Progress:  []ProgressEntry{{T: created, Msg: "Planning asset generation"}},
		Artifacts: map[string]artifact.Descriptor{},
	}
}

func backendFactories(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend {
			return NewMemoryBackend()
		},
		"file": func(t *testing.T) Backend {
			b, err := NewFileBackend(t.TempDir())
			require.NoError(t, err)
			return b
		},
		"redis": func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			b, err := NewRedisBackend(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
			require.NoError(t, err)
			return b
		},
		"database": func(t *testing.T) Backend {
			b, err := NewBackend(context.Background(), BackendConfig{
				Type:     BackendDatabase,
				Database: database.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "manifests.db")},
				DatabasePool: database.PoolConfig{
					MaxOpenConns: 1,
					MaxIdleConns: 1,
				},
			}, nil)
			require.NoError(t, err)
			return b
		},
	}
}

func TestBackends_Contract(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := factory(t)
			defer b.Close()

			require.NoError(t, b.Ping(ctx))

			_, err := b.Load(ctx, "job_missing")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, b.Save(ctx, nil), ErrInvalidInput)
			assert.ErrorIs(t, b.Save(ctx, &Job{}), ErrInvalidInput)

			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			queued := newTestJob("job_000000000001", StatusQueued, base)
			running := newTestJob("job_000000000002", StatusRunning, base.Add(time.Second))
			done := newTestJob("job_000000000003", StatusCompleted, base.Add(2*time.Second))
			done.Artifacts["64"] = artifact.Descriptor{Path: "/artifacts/voxels/a.json", Hash: "abc", Res: 64}
			for _, j := range []*Job{done, running, queued} {
				require.NoError(t, b.Save(ctx, j))
			}

			loaded, err := b.Load(ctx, done.ID)
			require.NoError(t, err)
			assert.Equal(t, done.Status, loaded.Status)
			assert.Equal(t, done.Artifacts, loaded.Artifacts)
			assert.True(t, done.CreatedAt.Equal(loaded.CreatedAt))
			require.Len(t, loaded.Progress, 1)
			assert.Equal(t, "Planning asset generation", loaded.Progress[0].Msg)

			recoverable, err := b.ListRecoverable(ctx)
			require.NoError(t, err)
			require.Len(t, recoverable, 2)
			assert.Equal(t, queued.ID, recoverable[0].ID)
			assert.Equal(t, running.ID, recoverable[1].ID)

			// Overwrite: a finished job leaves the recoverable set.
			running.Status = StatusFailed
			running.Error = &Failure{Code: "EMPTY_GEOMETRY", Message: "empty geometry at LOD 64"}
			require.NoError(t, b.Save(ctx, running))

			recoverable, err = b.ListRecoverable(ctx)
			require.NoError(t, err)
			require.Len(t, recoverable, 1)
			assert.Equal(t, queued.ID, recoverable[0].ID)

			loaded, err = b.Load(ctx, running.ID)
			require.NoError(t, err)
			require.NotNil(t, loaded.Error)
			assert.Equal(t, "empty geometry at LOD 64", loaded.Error.Message)
		})
	}
}

func TestFileBackend_Layout(t *testing.T) {
	root := t.TempDir()
	b, err := NewFileBackend(root)
	require.NoError(t, err)

	j := newTestJob("job_abcdef123456", StatusQueued, time.Now().UTC())
	require.NoError(t, b.Save(context.Background(), j))

	data, err := os.ReadFile(filepath.Join(root, ManifestsDir, j.ID+".json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"jobId": "job_abcdef123456"`)
	assert.Contains(t, string(data), `"status": "queued"`)

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not remain")

	_, err = b.Load(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, b.Save(context.Background(), newTestJob("../escape", StatusQueued, time.Now())), ErrInvalidInput)
}

func TestFileBackend_SkipsCorruptManifests(t *testing.T) {
	root := t.TempDir()
	b, err := NewFileBackend(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(b.Dir(), "job_broken.json"), []byte("{"), 0o644))
	require.NoError(t, b.Save(context.Background(), newTestJob("job_111111111111", StatusRunning, time.Now().UTC())))

	jobs, err := b.ListRecoverable(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job_111111111111", jobs[0].ID)
}

func TestRedisBackend_Keys(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer b.Close()

	j := newTestJob("job_222222222222", StatusQueued, time.Now().UTC())
	require.NoError(t, b.Save(context.Background(), j))

	assert.True(t, mr.Exists("voxelforge:manifest:job_222222222222"))
	members, err := mr.Members("voxelforge:manifest:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"job_222222222222"}, members)
}

func TestRedisBackend_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisBackend(context.Background(), RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestNewBackend_Unsupported(t *testing.T) {
	_, err := NewBackend(context.Background(), BackendConfig{Type: "etcd"}, nil)
	assert.Error(t, err)

	b, err := NewBackend(context.Background(), BackendConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, ok := b.(*FileBackend)
	assert.True(t, ok, "file backend is the default")
}
