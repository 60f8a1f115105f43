package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/types"
)

func waitForStatus(t *testing.T, r *Registry, id string, want Status) *Job {
	t.Helper()
	var last *Job
	require.Eventually(t, func() bool {
		j, ok := r.Get(context.Background(), id)
		if !ok {
			return false
		}
		last = j
		return j.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func closeRegistry(t *testing.T, r *Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))
}

func TestRegistry_CreateRunsToCompletion(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	id, err := r.Create(ctx, Prompt{Subject: "dragon"}, func(ctx context.Context, id string) error {
		<-release
		return r.AppendProgress(ctx, id, "working")
	})
	require.NoError(t, err)
	assert.Regexp(t, `^job_[0-9a-f]{12}$`, id)

	j := waitForStatus(t, r, id, StatusRunning)
	assert.Empty(t, j.Progress)

	close(release)
	j = waitForStatus(t, r, id, StatusCompleted)
	require.Len(t, j.Progress, 1)
	assert.Equal(t, "working", j.Progress[0].Msg)
	assert.Nil(t, j.Error)
}

func TestRegistry_ErrorFailsJob(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)

	id, err := r.Create(context.Background(), Prompt{}, func(ctx context.Context, id string) error {
		return types.NewError(types.ErrEmptyGeometry, "empty geometry at LOD 64")
	})
	require.NoError(t, err)

	j := waitForStatus(t, r, id, StatusFailed)
	require.NotNil(t, j.Error)
	assert.Equal(t, types.ErrEmptyGeometry, j.Error.Code)
	assert.Equal(t, "empty geometry at LOD 64", j.Error.Message)
}

func TestRegistry_PanicFailsJob(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)

	id, err := r.Create(context.Background(), Prompt{}, func(ctx context.Context, id string) error {
		panic("boom")
	})
	require.NoError(t, err)

	j := waitForStatus(t, r, id, StatusFailed)
	assert.Equal(t, types.ErrInternalError, j.Error.Code)
	assert.Contains(t, j.Error.Message, "boom")
}

func TestRegistry_PlainErrorGetsInternalCode(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)

	id, err := r.Create(context.Background(), Prompt{}, func(ctx context.Context, id string) error {
		return errors.New("disk on fire")
	})
	require.NoError(t, err)

	j := waitForStatus(t, r, id, StatusFailed)
	assert.Equal(t, types.ErrInternalError, j.Error.Code)
	assert.Equal(t, "disk on fire", j.Error.Message)
}

func TestRegistry_TerminalJobsAreImmutable(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)
	ctx := context.Background()

	id, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error { return nil })
	require.NoError(t, err)
	before := waitForStatus(t, r, id, StatusCompleted)

	require.NoError(t, r.AppendProgress(ctx, id, "late"))
	require.NoError(t, r.AttachArtifact(ctx, id, 64, artifact.Descriptor{Path: "/x", Hash: "h", Res: 64}))
	require.NoError(t, r.Fail(ctx, id, types.ErrStorage, "late failure"))

	after, ok := r.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestRegistry_UnknownIDIsNoop(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)
	ctx := context.Background()

	assert.NoError(t, r.AppendProgress(ctx, "job_nope", "x"))
	assert.NoError(t, r.Complete(ctx, "job_nope"))
	assert.NoError(t, r.Fail(ctx, "job_nope", types.ErrStorage, "x"))
	_, ok := r.Get(ctx, "job_nope")
	assert.False(t, ok)
}

func TestRegistry_ReloadsFromBackend(t *testing.T) {
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	require.NoError(t, err)
	r1 := NewRegistry(backend)

	id, err := r1.Create(context.Background(), Prompt{Subject: "teapot"}, func(ctx context.Context, id string) error {
		return r1.AttachArtifact(ctx, id, 64, artifact.Descriptor{Path: "/artifacts/voxels/a.json", Hash: "h", Res: 64})
	})
	require.NoError(t, err)
	waitForStatus(t, r1, id, StatusCompleted)
	closeRegistry(t, r1)

	// A fresh process sees the persisted manifest.
	backend2, err := NewFileBackend(root)
	require.NoError(t, err)
	r2 := NewRegistry(backend2)
	defer closeRegistry(t, r2)

	j, ok := r2.Get(context.Background(), id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, "teapot", j.Prompt.Subject)
	assert.Equal(t, "/artifacts/voxels/a.json", j.Artifacts["64"].Path)
}

func TestRegistry_InMemoryWins(t *testing.T) {
	backend := NewMemoryBackend()
	r := NewRegistry(backend)
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	id, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, id, StatusRunning)

	stale, err := backend.Load(ctx, id)
	require.NoError(t, err)
	stale.Status = StatusFailed
	stale.Error = &Failure{Code: types.ErrStorage, Message: "written by someone else"}
	require.NoError(t, backend.Save(ctx, stale))

	j, ok := r.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, j.Status)
	assert.Nil(t, j.Error)
	close(release)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	id, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.AppendProgress(ctx, id, "one"))

	j, _ := r.Get(ctx, id)
	j.Progress[0].Msg = "mutated"
	j.Artifacts["64"] = artifact.Descriptor{}

	again, _ := r.Get(ctx, id)
	assert.Equal(t, "one", again.Progress[0].Msg)
	assert.Empty(t, again.Artifacts)
	close(release)
}

func TestRegistry_ConcurrentProgressIsSerialized(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	id, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.AppendProgress(ctx, id, "tick"))
		}()
	}
	wg.Wait()

	j, _ := r.Get(ctx, id)
	assert.Len(t, j.Progress, 50)
	persisted, err := r.backend.Load(ctx, id)
	require.NoError(t, err)
	assert.Len(t, persisted.Progress, 50)
	close(release)
}

func TestRegistry_BoundsConcurrentJobs(t *testing.T) {
	r := NewRegistry(NewMemoryBackend(), WithMaxConcurrentJobs(1))
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	block := func(ctx context.Context, id string) error {
		<-release
		return nil
	}
	first, err := r.Create(ctx, Prompt{}, block)
	require.NoError(t, err)
	second, err := r.Create(ctx, Prompt{}, block)
	require.NoError(t, err)

	waitForStatus(t, r, first, StatusRunning)
	time.Sleep(50 * time.Millisecond)
	j, _ := r.Get(ctx, second)
	assert.Equal(t, StatusQueued, j.Status, "second job must wait for a slot")

	close(release)
	waitForStatus(t, r, first, StatusCompleted)
	waitForStatus(t, r, second, StatusCompleted)
}

type failingBackend struct {
	*MemoryBackend
	fail bool
	mu   sync.Mutex
}

func (b *failingBackend) Save(ctx context.Context, j *Job) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Save(ctx, j)
}

func (b *failingBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func TestRegistry_PersistFailure(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), fail: true}
	r := NewRegistry(backend)
	defer closeRegistry(t, r)
	ctx := context.Background()

	_, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error { return nil })
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))

	backend.setFail(false)
	release := make(chan struct{})
	id, err := r.Create(ctx, Prompt{}, func(ctx context.Context, id string) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, id, StatusRunning)

	backend.setFail(true)
	err = r.AppendProgress(ctx, id, "lost")
	assert.Equal(t, types.ErrStorage, types.GetErrorCode(err))
	j, _ := r.Get(ctx, id)
	assert.Empty(t, j.Progress, "memory must not diverge from the failed write")
	backend.setFail(false)
	close(release)
}

func TestRegistry_Resume(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, backend.Save(ctx, newTestJob("job_aaaaaaaaaaaa", StatusRunning, now)))
	require.NoError(t, backend.Save(ctx, newTestJob("job_bbbbbbbbbbbb", StatusQueued, now.Add(time.Second))))
	require.NoError(t, backend.Save(ctx, newTestJob("job_cccccccccccc", StatusCompleted, now)))

	r := NewRegistry(backend)
	defer closeRegistry(t, r)

	jobs, err := r.Recoverable(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	for _, j := range jobs {
		require.NoError(t, r.Resume(ctx, j.ID, func(ctx context.Context, id string) error { return nil }))
	}
	running := waitForStatus(t, r, "job_aaaaaaaaaaaa", StatusCompleted)
	assert.Equal(t, "Resumed after restart", running.Progress[len(running.Progress)-1].Msg)

	queued := waitForStatus(t, r, "job_bbbbbbbbbbbb", StatusCompleted)
	assert.Len(t, queued.Progress, 1)

	assert.NoError(t, r.Resume(ctx, "job_cccccccccccc", func(ctx context.Context, id string) error {
		t.Error("terminal job must not run")
		return nil
	}))
	assert.ErrorIs(t, r.Resume(ctx, "job_missing", nil), ErrNotFound)
}

func TestRegistry_ClosedRejectsCreate(t *testing.T) {
	r := NewRegistry(NewMemoryBackend())
	closeRegistry(t, r)

	_, err := r.Create(context.Background(), Prompt{}, func(ctx context.Context, id string) error { return nil })
	assert.Equal(t, types.ErrServiceUnavailable, types.GetErrorCode(err))
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusQueued.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusFailed))
	assert.False(t, StatusRunning.CanTransitionTo(StatusQueued))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusFailed))
	assert.False(t, StatusFailed.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusRunning.CanTransitionTo(StatusRunning))
	assert.False(t, StatusQueued.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusQueued.CanTransitionTo(StatusFailed))
	assert.False(t, StatusQueued.CanTransitionTo(StatusQueued))
}

func TestRegistry_QueuedJobCannotSkipRunning(t *testing.T) {
	r := NewRegistry(NewMemoryBackend(), WithMaxConcurrentJobs(1))
	defer closeRegistry(t, r)
	ctx := context.Background()

	release := make(chan struct{})
	first, err := r.Create(ctx, Prompt{Subject: "dragon"}, func(ctx context.Context, id string) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	waitForStatus(t, r, first, StatusRunning)

	second, err := r.Create(ctx, Prompt{Subject: "castle"}, func(ctx context.Context, id string) error { return nil })
	require.NoError(t, err)

	require.NoError(t, r.Complete(ctx, second))
	j, ok := r.Get(ctx, second)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, j.Status)

	require.NoError(t, r.Fail(ctx, second, types.ErrStorage, "too early"))
	j, ok = r.Get(ctx, second)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, j.Status)
	assert.Nil(t, j.Error)

	close(release)
	waitForStatus(t, r, first, StatusCompleted)
	waitForStatus(t, r, second, StatusCompleted)
}

func TestRegistry_ShutdownLeavesJobRecoverable(t *testing.T) {
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	require.NoError(t, err)
	r := NewRegistry(backend)

	exited := make(chan struct{})
	id, err := r.Create(context.Background(), Prompt{Subject: "dragon"}, func(ctx context.Context, id string) error {
		defer close(exited)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	waitForStatus(t, r, id, StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	<-exited
	time.Sleep(50 * time.Millisecond)

	reopened, err := NewFileBackend(root)
	require.NoError(t, err)
	jobs, err := reopened.ListRecoverable(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	assert.Equal(t, StatusRunning, jobs[0].Status)
	assert.Nil(t, jobs[0].Error)
}

func TestRegistry_CloseWaitsForCancelledJobsBeforeClosingBackend(t *testing.T) {
	backend := NewMemoryBackend()
	r := NewRegistry(backend)

	saveErr := make(chan error, 1)
	id, err := r.Create(context.Background(), Prompt{Subject: "dragon"}, func(ctx context.Context, id string) error {
		<-ctx.Done()
		// Persist after cancellation, as a job unwinding from a stage would.
		time.Sleep(100 * time.Millisecond)
		saveErr <- r.AppendProgress(context.WithoutCancel(ctx), id, "flushing")
		return ctx.Err()
	})
	require.NoError(t, err)
	waitForStatus(t, r, id, StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)

	select {
	case err := <-saveErr:
		assert.NoError(t, err)
	default:
		t.Fatal("Close returned before the cancelled job finished writing")
	}

	stored, err := backend.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, stored.Status)
	require.NotEmpty(t, stored.Progress)
	assert.Equal(t, "flushing", stored.Progress[len(stored.Progress)-1].Msg)
}
