package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/internal/ctxkeys"
	"github.com/BaSui01/voxelforge/internal/metrics"
	"github.com/BaSui01/voxelforge/internal/pool"
	"github.com/BaSui01/voxelforge/internal/telemetry"
	"github.com/BaSui01/voxelforge/job"
	"github.com/BaSui01/voxelforge/types"
)

// Runner drives a job through planning, per-LOD synthesis, assembly and
// export. One Runner serves every job; part synthesis for all jobs shares
// the same worker pool.
type Runner struct {
	registry *job.Registry
	planner  *asset.Planner
	synth    *asset.Synthesizer
	store    *artifact.Store
	workers  *pool.WorkerPool
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records job and stage metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a runner.
func New(registry *job.Registry, planner *asset.Planner, synth *asset.Synthesizer,
	store *artifact.Store, workers *pool.WorkerPool, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		planner:  planner,
		synth:    synth,
		store:    store,
		workers:  workers,
		tracer:   telemetry.Tracer(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "job_runner"))
	return r
}

// Submit normalizes the prompt and starts a job. It returns once the job is
// persisted as queued.
func (r *Runner) Submit(ctx context.Context, prompt job.Prompt) (string, error) {
	if err := prompt.Normalize(); err != nil {
		return "", err
	}
	id, err := r.registry.Create(ctx, prompt, r.Execute)
	if err != nil {
		return "", err
	}
	r.metrics.JobSubmitted()
	return id, nil
}

// Recover resumes every job a previous process left queued or running and
// returns how many were resumed.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	jobs, err := r.registry.Recoverable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list recoverable jobs: %w", err)
	}
	resumed := 0
	for _, j := range jobs {
		if err := r.registry.Resume(ctx, j.ID, r.Execute); err != nil {
			r.logger.Warn("failed to resume job", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		r.logger.Info("resumed interrupted jobs", zap.Int("count", resumed))
	}
	return resumed, nil
}

// Execute is the job body handed to the registry. The job must already be
// running.
func (r *Runner) Execute(ctx context.Context, jobID string) (err error) {
	ctx = ctxkeys.WithJobID(ctx, jobID)
	ctx, span := r.tracer.Start(ctx, telemetry.SpanJob,
		trace.WithAttributes(telemetry.AttrJobID.String(jobID)))
	defer span.End()

	start := time.Now()
	r.metrics.JobStarted()
	defer func() {
		status, code := string(job.StatusCompleted), ""
		if err != nil {
			status, code = string(job.StatusFailed), string(types.GetErrorCode(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.metrics.JobFinished(status, code, time.Since(start))
	}()

	j, ok := r.registry.Get(ctx, jobID)
	if !ok {
		return types.NewError(types.ErrJobNotFound, "job "+jobID+" not found")
	}
	p := j.Prompt
	span.SetAttributes(
		telemetry.AttrSubject.String(p.Subject),
		telemetry.AttrResolution.Int(p.Resolution),
	)

	if err := r.progress(ctx, jobID, "Planning asset generation"); err != nil {
		return err
	}
	planStart := time.Now()
	plan, err := r.planner.Plan(p.Subject, p.Style, p.Pose, p.Seed, p.Resolution)
	r.metrics.RecordStage(metrics.StagePlan, 0, time.Since(planStart))
	if err != nil {
		return types.NewError(types.ErrPlanning, err.Error()).WithCause(err)
	}
	if err := r.registry.AttachPlan(ctx, jobID, plan); err != nil {
		return err
	}
	span.SetAttributes(
		telemetry.AttrTemplate.String(plan.Template),
		telemetry.AttrParts.Int(len(plan.Parts)),
	)
	if err := r.progress(ctx, jobID, fmt.Sprintf("Generated plan with %d parts", len(plan.Parts))); err != nil {
		return err
	}

	for _, lod := range plan.LODs {
		if err := r.runLOD(ctx, jobID, plan, lod); err != nil {
			return err
		}
	}

	if highest := plan.HighestLOD(); plan.Target > highest {
		msg := fmt.Sprintf("Target resolution %d exceeds highest generated LOD %d; upscale deferred", plan.Target, highest)
		if err := r.progress(ctx, jobID, msg); err != nil {
			return err
		}
	}
	r.log(ctx).Info("job finished", zap.Int("lods", len(plan.LODs)), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Runner) runLOD(ctx context.Context, jobID string, plan *asset.GenerationPlan, lod int) (err error) {
	ctx = ctxkeys.WithLOD(ctx, lod)
	ctx, span := r.tracer.Start(ctx, telemetry.SpanLOD, trace.WithAttributes(telemetry.AttrLOD.Int(lod)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := r.progress(ctx, jobID, fmt.Sprintf("Generating LOD %d", lod)); err != nil {
		return err
	}

	parts := plan.PartsAt(lod)
	synthStart := time.Now()
	fragments, failures, err := r.synthesize(ctx, plan, parts, lod)
	r.metrics.RecordStage(metrics.StageSynthesize, lod, time.Since(synthStart))
	if err != nil {
		return err
	}
	stats := r.workers.Stats()
	r.metrics.RecordPool(stats.Active, stats.Queued)

	degraded := 0
	for i, part := range parts {
		if failures[i] != nil {
			degraded++
			r.metrics.RecordPart(string(asset.SourceNone), string(part.Kind))
			msg := fmt.Sprintf("Part %s degraded at LOD %d: %v", part.ID, lod, failures[i])
			if err := r.progress(ctx, jobID, msg); err != nil {
				return err
			}
			continue
		}
		r.metrics.RecordPart(string(fragments[i].Source), string(part.Kind))
		msg := fmt.Sprintf("Generated %s (%d voxels)", part.ID, len(fragments[i].Voxels))
		if err := r.progress(ctx, jobID, msg); err != nil {
			return err
		}
	}

	assembleStart := time.Now()
	set := asset.Assemble(fragments, plan, lod)
	r.metrics.RecordStage(metrics.StageAssemble, lod, time.Since(assembleStart))
	r.metrics.RecordLOD(lod, len(set.Voxels))
	span.SetAttributes(
		telemetry.AttrVoxels.Int(len(set.Voxels)),
		telemetry.AttrDegraded.Int(degraded),
	)
	if len(set.Voxels) == 0 {
		return types.NewError(types.ErrEmptyGeometry, fmt.Sprintf("empty geometry at LOD %d", lod))
	}

	exportStart := time.Now()
	desc, err := r.store.Export(ctx, set, plan, lod)
	r.metrics.RecordStage(metrics.StageExport, lod, time.Since(exportStart))
	r.metrics.RecordExport(err)
	if err != nil {
		return types.NewError(types.ErrStorage, fmt.Sprintf("failed to export LOD %d: %v", lod, err)).WithCause(err)
	}
	if err := r.registry.AttachArtifact(ctx, jobID, lod, desc); err != nil {
		return err
	}
	return r.progress(ctx, jobID, fmt.Sprintf("Exported LOD %d to %s (%d voxels)", lod, desc.Path, len(set.Voxels)))
}

// synthesize fans the parts of one LOD out to the worker pool and waits for
// all of them. A part whose task fails gets an empty fragment and its error
// in failures; only cancellation aborts the LOD.
func (r *Runner) synthesize(ctx context.Context, plan *asset.GenerationPlan, parts []asset.Part, lod int) ([]asset.Fragment, []error, error) {
	fragments := make([]asset.Fragment, len(parts))
	failures := make([]error, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			var frag asset.Fragment
			err := r.workers.SubmitWait(gctx, func(ctx context.Context) error {
				var err error
				frag, err = r.synth.Synthesize(ctx, part, plan, lod)
				return err
			})
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.log(ctx).Warn("part synthesis failed", zap.String("part", part.ID), zap.Error(err))
				fragments[i] = asset.EmptyFragment(part.ID)
				failures[i] = err
				return nil
			}
			fragments[i] = frag
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return fragments, failures, nil
}

func (r *Runner) progress(ctx context.Context, jobID, msg string) error {
	r.log(ctx).Debug(msg)
	return r.registry.AppendProgress(ctx, jobID, msg)
}

func (r *Runner) log(ctx context.Context) *zap.Logger {
	l := r.logger
	if id, ok := ctxkeys.JobID(ctx); ok {
		l = l.With(zap.String("job_id", id))
	}
	if lod, ok := ctxkeys.LOD(ctx); ok {
		l = l.With(zap.Int("lod", lod))
	}
	return l
}
