package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/types"
)

// DefaultMaxConcurrentJobs bounds how many jobs execute at once.
const DefaultMaxConcurrentJobs = 4

// cancelDrainTimeout bounds how long Close waits for cancelled jobs to
// return before closing the backend.
var cancelDrainTimeout = 5 * time.Second

// Func is the body of a job. It runs after the job has moved to running.
// A returned error fails the job; returning nil completes it unless the
// function already moved it to a terminal state.
type Func func(ctx context.Context, jobID string) error

type entry struct {
	mu  sync.Mutex
	job *Job
}

// Registry owns every job record. Mutations on one job are serialized and
// persisted through the backend before they return. In-memory state wins
// over the backend; a miss falls back to reloading the persisted manifest.
type Registry struct {
	backend Backend
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry

	slots  chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxConcurrentJobs bounds concurrent job execution.
func WithMaxConcurrentJobs(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.slots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend Backend, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		backend: backend,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
		jobs:    make(map[string]*entry),
		slots:   make(chan struct{}, DefaultMaxConcurrentJobs),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "job_registry"))
	return r
}

// Create records a queued job and runs fn asynchronously. It returns as
// soon as the initial manifest is persisted.
func (r *Registry) Create(ctx context.Context, prompt Prompt, fn Func) (string, error) {
	if r.closed.Load() {
		return "", types.NewError(types.ErrServiceUnavailable, "registry is shutting down").WithCause(ErrClosed)
	}

	now := r.now()
	job := &Job{
		ID:        NewID(),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Prompt:    prompt,
		Progress:  []ProgressEntry{},
		Artifacts: map[string]artifact.Descriptor{},
	}
	if err := r.backend.Save(ctx, job); err != nil {
		return "", types.NewError(types.ErrStorage, "failed to persist job").WithCause(err)
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{job: job}
	r.mu.Unlock()

	r.logger.Info("job created", zap.String("job_id", job.ID), zap.String("subject", prompt.Subject))
	r.dispatch(job.ID, fn)
	return job.ID, nil
}

// Get returns a copy of the job, reloading it from the backend on a miss.
func (r *Registry) Get(ctx context.Context, id string) (*Job, bool) {
	e := r.lookup(ctx, id)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), true
}

// AppendProgress adds a timestamped progress entry.
func (r *Registry) AppendProgress(ctx context.Context, id, msg string) error {
	return r.mutate(ctx, id, func(j *Job) bool {
		j.Progress = append(j.Progress, ProgressEntry{T: r.now(), Msg: msg})
		return true
	})
}

// AttachPlan records the generation plan.
func (r *Registry) AttachPlan(ctx context.Context, id string, plan *asset.GenerationPlan) error {
	return r.mutate(ctx, id, func(j *Job) bool {
		j.Plan = plan
		return true
	})
}

// AttachArtifact records the exported artifact of one LOD.
func (r *Registry) AttachArtifact(ctx context.Context, id string, lod int, desc artifact.Descriptor) error {
	return r.mutate(ctx, id, func(j *Job) bool {
		j.Artifacts[LODKey(lod)] = desc
		return true
	})
}

// Complete moves the job to completed.
func (r *Registry) Complete(ctx context.Context, id string) error {
	return r.transition(ctx, id, StatusCompleted, nil)
}

// Fail moves the job to failed and records the error.
func (r *Registry) Fail(ctx context.Context, id string, code types.ErrorCode, msg string) error {
	if code == "" {
		code = types.ErrInternalError
	}
	return r.transition(ctx, id, StatusFailed, &Failure{Code: code, Message: msg})
}

func (r *Registry) transition(ctx context.Context, id string, next Status, failure *Failure) error {
	return r.mutate(ctx, id, func(j *Job) bool {
		if !j.Status.CanTransitionTo(next) {
			return false
		}
		j.Status = next
		if failure != nil {
			j.Error = failure
		}
		return true
	})
}

// mutate applies fn to a copy of the job, persists it, then publishes it.
// Unknown ids and terminal jobs are left untouched.
func (r *Registry) mutate(ctx context.Context, id string, fn func(*Job) bool) error {
	e := r.lookup(ctx, id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status.IsTerminal() {
		r.logger.Debug("ignoring mutation of terminal job",
			zap.String("job_id", id), zap.String("status", string(e.job.Status)))
		return nil
	}

	next := e.job.Clone()
	if !fn(next) {
		return nil
	}
	next.UpdatedAt = r.now()
	if err := r.backend.Save(ctx, next); err != nil {
		return types.NewError(types.ErrStorage, "failed to persist job").WithCause(err)
	}
	e.job = next
	return nil
}

func (r *Registry) lookup(ctx context.Context, id string) *entry {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if ok {
		return e
	}

	job, err := r.backend.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("failed to reload job", zap.String("job_id", id), zap.Error(err))
		}
		return nil
	}
	if job.Progress == nil {
		job.Progress = []ProgressEntry{}
	}
	if job.Artifacts == nil {
		job.Artifacts = map[string]artifact.Descriptor{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[id]; ok {
		return existing
	}
	e = &entry{job: job}
	r.jobs[id] = e
	return e
}

func (r *Registry) dispatch(id string, fn Func) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case r.slots <- struct{}{}:
		case <-r.ctx.Done():
			return
		}
		defer func() { <-r.slots }()

		r.run(id, fn)
	}()
}

func (r *Registry) run(id string, fn Func) {
	ctx := r.ctx
	logger := r.logger.With(zap.String("job_id", id))

	if err := r.transition(ctx, id, StatusRunning, nil); err != nil {
		logger.Error("failed to mark job running", zap.Error(err))
		return
	}
	if j, ok := r.Get(ctx, id); !ok || j.Status != StatusRunning {
		return
	}

	err := r.invoke(ctx, id, fn)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Warn("job interrupted by shutdown, left for recovery")
		return
	}
	if err != nil {
		code := types.GetErrorCode(err)
		msg := err.Error()
		var te *types.Error
		if errors.As(err, &te) {
			msg = te.Message
		}
		logger.Warn("job failed", zap.String("code", string(code)), zap.Error(err))
		if ferr := r.Fail(context.WithoutCancel(ctx), id, code, msg); ferr != nil {
			logger.Error("failed to record job failure", zap.Error(ferr))
		}
		return
	}

	if cerr := r.Complete(context.WithoutCancel(ctx), id); cerr != nil {
		logger.Error("failed to complete job", zap.Error(cerr))
	}
}

func (r *Registry) invoke(ctx context.Context, id string, fn Func) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("job panicked: %v", rec))
		}
	}()
	return fn(ctx, id)
}

// Recoverable lists persisted jobs that were queued or running.
func (r *Registry) Recoverable(ctx context.Context) ([]*Job, error) {
	return r.backend.ListRecoverable(ctx)
}

// Resume re-dispatches a job left queued or running by a previous process.
// A running job keeps its status and gets a progress entry noting the restart.
func (r *Registry) Resume(ctx context.Context, id string, fn Func) error {
	if r.closed.Load() {
		return ErrClosed
	}
	e := r.lookup(ctx, id)
	if e == nil {
		return ErrNotFound
	}
	e.mu.Lock()
	status := e.job.Status
	e.mu.Unlock()

	if status.IsTerminal() {
		return nil
	}
	if status == StatusRunning {
		if err := r.AppendProgress(ctx, id, "Resumed after restart"); err != nil {
			return err
		}
	}
	r.logger.Info("job resumed", zap.String("job_id", id), zap.String("status", string(status)))
	r.dispatch(id, fn)
	return nil
}

// Ping checks the backend.
func (r *Registry) Ping(ctx context.Context) error {
	return r.backend.Ping(ctx)
}

// Close stops accepting jobs, waits for running ones until ctx expires,
// then closes the backend.
func (r *Registry) Close(ctx context.Context) error {
	if r.closed.Swap(true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
		r.logger.Warn("shutdown deadline reached, cancelling running jobs")
	}
	r.cancel()

	// Cancelled jobs may still be persisting; let them return before the backend closes.
	if waitErr != nil {
		select {
		case <-done:
		case <-time.After(cancelDrainTimeout):
			r.logger.Warn("cancelled jobs still running, closing backend anyway")
		}
	}

	if err := r.backend.Close(); err != nil {
		return fmt.Errorf("failed to close manifest backend: %w", err)
	}
	return waitErr
}
