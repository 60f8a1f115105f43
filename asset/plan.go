package asset

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// PartKind selects the synthesis strategy for a part.
type PartKind string

const (
	KindBody PartKind = "body"
	KindHead PartKind = "head"
	KindWing PartKind = "wing"
	KindLeg  PartKind = "leg"
	KindArm  PartKind = "arm"
	KindNeck PartKind = "neck"
	KindTail PartKind = "tail"
	KindBox  PartKind = "box"
)

// DefaultLODs is the canonical LOD ladder.
var DefaultLODs = []int{64, 128, 256, 512, 1024, 2048}

const (
	// MaxLOD is the highest resolution the pipeline synthesizes directly.
	MaxLOD = 2048
	// DefaultResolution applies when a request carries no usable target.
	DefaultResolution = 64
)

// ErrInvalidTemplate is returned when a template cannot produce a plan.
var ErrInvalidTemplate = errors.New("invalid part template")

// FracBox is a box in the unit cube, scaled per LOD.
type FracBox struct {
	Min [3]float64 `json:"min"`
	Max [3]float64 `json:"max"`
}

// At scales the box to an integer half-open box at resolution res.
// Every part keeps at least one cell per axis.
func (f FracBox) At(res int) BBox {
	var b BBox
	for i := 0; i < 3; i++ {
		lo := int(math.Floor(f.Min[i] * float64(res)))
		hi := int(math.Floor(f.Max[i] * float64(res)))
		if lo >= res {
			lo = res - 1
		}
		if lo < 0 {
			lo = 0
		}
		if hi > res {
			hi = res
		}
		if hi <= lo {
			hi = lo + 1
		}
		b.Min[i], b.Max[i] = lo, hi
	}
	return b
}

func (f FracBox) valid() bool {
	for i := 0; i < 3; i++ {
		if f.Min[i] < 0 || f.Max[i] > 1 || f.Min[i] >= f.Max[i] {
			return false
		}
	}
	return true
}

// PartSpec is a part as recorded in the plan.
type PartSpec struct {
	ID   string   `json:"id"`
	Kind PartKind `json:"kind"`
	Box  FracBox  `json:"box"`
}

// Part is a PartSpec resolved at one LOD.
type Part struct {
	ID   string
	Kind PartKind
	BBox BBox
}

// GenerationPlan is the deterministic decomposition of a prompt.
type GenerationPlan struct {
	Subject  string     `json:"subject"`
	Style    string     `json:"style"`
	Pose     string     `json:"pose"`
	Seed     int64      `json:"seed"`
	Target   int        `json:"target"`
	LODs     []int      `json:"lods"`
	Template string     `json:"template"`
	Parts    []PartSpec `json:"parts"`
	Palette  []Color    `json:"palette"`
}

// PartsAt resolves every part's bounding box at the given LOD.
func (p *GenerationPlan) PartsAt(lod int) []Part {
	parts := make([]Part, len(p.Parts))
	for i, spec := range p.Parts {
		parts[i] = Part{ID: spec.ID, Kind: spec.Kind, BBox: spec.Box.At(lod)}
	}
	return parts
}

// HighestLOD returns the last entry of the ladder.
func (p *GenerationPlan) HighestLOD() int {
	if len(p.LODs) == 0 {
		return 0
	}
	return p.LODs[len(p.LODs)-1]
}

// partIndex maps part ids to their plan order.
func (p *GenerationPlan) partIndex() map[string]int {
	idx := make(map[string]int, len(p.Parts))
	for i, spec := range p.Parts {
		idx[spec.ID] = i
	}
	return idx
}

// Template decomposes a family of subjects into parts.
type Template struct {
	Name     string
	Keywords []string
	Parts    []PartSpec
}

func (t Template) matches(subject string) bool {
	for _, kw := range t.Keywords {
		if kw != "" && strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}

// Planner turns prompts into generation plans. It holds no mutable state
// once constructed and is safe for concurrent use.
type Planner struct {
	templates []Template
	generic   Template
	ladder    []int
	lodCap    int
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithTemplate registers an additional template, matched after those
// already registered.
func WithTemplate(t Template) PlannerOption {
	return func(p *Planner) {
		p.templates = append(p.templates, t)
	}
}

// WithLODCap lowers the highest LOD the planner will schedule.
func WithLODCap(lodCap int) PlannerOption {
	return func(p *Planner) {
		if lodCap > 0 && lodCap < MaxLOD {
			p.lodCap = lodCap
		}
	}
}

// NewPlanner creates a planner with the built-in templates plus options.
func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		templates: []Template{DragonTemplate(), HumanoidTemplate()},
		generic:   GenericTemplate(),
		ladder:    DefaultLODs,
		lodCap:    MaxLOD,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultPlanner returns the standard planner.
func DefaultPlanner() *Planner {
	return NewPlanner()
}

// Ladder returns the ascending LODs scheduled for a target resolution.
func (p *Planner) Ladder(target int) []int {
	if target <= 0 {
		target = DefaultResolution
	}
	limit := min(target, p.lodCap)
	lods := make([]int, 0, len(p.ladder))
	for _, lod := range p.ladder {
		if lod <= limit {
			lods = append(lods, lod)
		}
	}
	if len(lods) == 0 {
		lods = append(lods, limit)
	}
	return lods
}

// Plan builds the generation plan. It is a pure function of its inputs.
func (p *Planner) Plan(subject, style, pose string, seed int64, target int) (*GenerationPlan, error) {
	subject = strings.ToLower(strings.TrimSpace(subject))
	if target <= 0 {
		target = DefaultResolution
	}

	tmpl := p.generic
	for _, t := range p.templates {
		if t.matches(subject) {
			tmpl = t
			break
		}
	}
	if len(tmpl.Parts) == 0 {
		return nil, fmt.Errorf("%w: template %q has no parts", ErrInvalidTemplate, tmpl.Name)
	}

	seen := make(map[string]struct{}, len(tmpl.Parts))
	parts := make([]PartSpec, len(tmpl.Parts))
	for i, spec := range tmpl.Parts {
		if spec.ID == "" || !spec.Box.valid() {
			return nil, fmt.Errorf("%w: template %q part %d", ErrInvalidTemplate, tmpl.Name, i)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("%w: template %q repeats part %q", ErrInvalidTemplate, tmpl.Name, spec.ID)
		}
		seen[spec.ID] = struct{}{}
		parts[i] = spec
	}

	palette := make([]Color, len(DefaultPalette))
	copy(palette, DefaultPalette)

	return &GenerationPlan{
		Subject:  subject,
		Style:    style,
		Pose:     pose,
		Seed:     seed,
		Target:   target,
		LODs:     p.Ladder(target),
		Template: tmpl.Name,
		Parts:    parts,
		Palette:  palette,
	}, nil
}
