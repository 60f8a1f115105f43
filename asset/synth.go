package asset

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultGeneratorTimeout bounds a single content generator call.
const DefaultGeneratorTimeout = 60 * time.Second

// FallbackHook observes generator failures that fell back to procedural output.
type FallbackHook func(partID string, err error)

// Synthesizer produces the voxels of one part at one LOD. It holds no
// per-call state, so one instance serves every worker.
type Synthesizer struct {
	strategies *StrategyTable
	generator  ContentGenerator
	timeout    time.Duration
	maxVoxels  int
	onFallback FallbackHook
	logger     *zap.Logger
}

// SynthOption configures a Synthesizer.
type SynthOption func(*Synthesizer)

// WithGenerator enables the content generator strategy.
func WithGenerator(g ContentGenerator) SynthOption {
	return func(s *Synthesizer) { s.generator = g }
}

// WithGeneratorTimeout sets the per-call generator deadline.
func WithGeneratorTimeout(d time.Duration) SynthOption {
	return func(s *Synthesizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxVoxels sets the per-part voxel cap.
func WithMaxVoxels(n int) SynthOption {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxVoxels = n
		}
	}
}

// WithStrategies replaces the procedural strategy table.
func WithStrategies(t *StrategyTable) SynthOption {
	return func(s *Synthesizer) {
		if t != nil {
			s.strategies = t
		}
	}
}

// WithFallbackHook registers an observer for generator fallbacks.
func WithFallbackHook(h FallbackHook) SynthOption {
	return func(s *Synthesizer) { s.onFallback = h }
}

// WithSynthLogger sets the logger.
func WithSynthLogger(l *zap.Logger) SynthOption {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSynthesizer creates a synthesizer. Without a generator it is purely
// procedural and deterministic.
func NewSynthesizer(opts ...SynthOption) *Synthesizer {
	s := &Synthesizer{
		strategies: NewStrategyTable(),
		timeout:    DefaultGeneratorTimeout,
		maxVoxels:  DefaultMaxVoxels,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "synthesizer"))
	return s
}

// Strategies exposes the table so callers can register new part kinds.
func (s *Synthesizer) Strategies() *StrategyTable {
	return s.strategies
}

// Synthesize produces the fragment for part at lod. Generator failures fall
// back to the procedural strategy; only cancellation of ctx is an error.
func (s *Synthesizer) Synthesize(ctx context.Context, part Part, plan *GenerationPlan, lod int) (Fragment, error) {
	if err := ctx.Err(); err != nil {
		return EmptyFragment(part.ID), err
	}

	if s.generator != nil {
		voxels, err := s.generate(ctx, part, plan, lod)
		if err == nil {
			return Fragment{PartID: part.ID, Source: SourceGenerator, Voxels: voxels}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return EmptyFragment(part.ID), ctxErr
		}
		s.logger.Warn("content generator failed, using procedural fallback",
			zap.String("generator", s.generator.Name()),
			zap.String("part", part.ID),
			zap.Int("lod", lod),
			zap.Error(err))
		if s.onFallback != nil {
			s.onFallback(part.ID, err)
		}
	}

	return s.Procedural(part, lod), nil
}

func (s *Synthesizer) generate(ctx context.Context, part Part, plan *GenerationPlan, lod int) ([]Voxel, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.generator.GeneratePart(callCtx, &PartRequest{
		Subject:    plan.Subject,
		PartID:     part.ID,
		Kind:       part.Kind,
		BBox:       part.BBox,
		Resolution: lod,
		Style:      plan.Style,
		Pose:       plan.Pose,
		Seed:       plan.Seed,
	})
	if err != nil {
		return nil, err
	}
	return DecodeGenerated(raw, part.BBox, s.maxVoxels)
}

// Procedural runs the strategy registered for the part's kind. The output
// is a pure function of the part and the LOD.
func (s *Synthesizer) Procedural(part Part, lod int) Fragment {
	b := NewBuilder(part.BBox, s.maxVoxels)
	if !part.BBox.Empty() {
		step := Stride(part.BBox, lod, s.maxVoxels)
		s.strategies.Lookup(part.Kind)(b, part.BBox, step)
	}
	return Fragment{PartID: part.ID, Source: SourceProcedural, Voxels: b.Voxels()}
}
