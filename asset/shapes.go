package asset

import (
	"math"
	"sync"
)

// DefaultMaxVoxels caps the voxels emitted for a single part.
const DefaultMaxVoxels = 200000

// Builder accumulates the voxels of one fragment. It drops cells outside
// the part box and duplicate positions, clamps colors into the palette
// and stops accepting voxels once the cap is reached.
type Builder struct {
	box    BBox
	limit  int
	seen   map[Vec3]struct{}
	voxels []Voxel
}

// NewBuilder creates a builder for a part box.
func NewBuilder(box BBox, limit int) *Builder {
	if limit <= 0 {
		limit = DefaultMaxVoxels
	}
	return &Builder{
		box:   box,
		limit: limit,
		seen:  make(map[Vec3]struct{}),
	}
}

// Add records a voxel. It returns false once the builder is full.
func (b *Builder) Add(x, y, z, c int) bool {
	if len(b.voxels) >= b.limit {
		return false
	}
	if !b.box.Contains(x, y, z) {
		return true
	}
	pos := Vec3{x, y, z}
	if _, dup := b.seen[pos]; dup {
		return true
	}
	b.seen[pos] = struct{}{}
	b.voxels = append(b.voxels, Voxel{X: x, Y: y, Z: z, C: ClampColor(c)})
	return len(b.voxels) < b.limit
}

// Full reports whether the cap has been reached.
func (b *Builder) Full() bool {
	return len(b.voxels) >= b.limit
}

// Len returns the number of voxels recorded so far.
func (b *Builder) Len() int {
	return len(b.voxels)
}

// Voxels returns the recorded voxels in insertion order.
func (b *Builder) Voxels() []Voxel {
	return b.voxels
}

// Strategy fills a part box through the builder, sampling every step cells.
type Strategy func(b *Builder, box BBox, step int)

// Stride picks the sampling step for a part: one cell per 512 of
// resolution, coarsened further until the sampled volume fits the cap.
func Stride(box BBox, lod, limit int) int {
	step := max(1, lod/512)
	if limit <= 0 {
		return step
	}
	vol := box.Volume()
	for step*step*step*limit < vol {
		step++
	}
	return step
}

type shapeFrame struct {
	cx, cy, cz float64
	sx, sy, sz float64
	rx, ry, rz float64
}

func frameOf(box BBox) shapeFrame {
	s := box.Size()
	f := shapeFrame{
		cx: float64(box.Min[0]+box.Max[0]) / 2,
		cy: float64(box.Min[1]+box.Max[1]) / 2,
		cz: float64(box.Min[2]+box.Max[2]) / 2,
		sx: math.Max(1, float64(s[0])),
		sy: math.Max(1, float64(s[1])),
		sz: math.Max(1, float64(s[2])),
	}
	f.rx = math.Max(1, f.sx/2)
	f.ry = math.Max(1, f.sy/2)
	f.rz = math.Max(1, f.sz/2)
	return f
}

// each visits the sampled cells of box in x, y, z order until fn returns false.
func each(box BBox, step int, fn func(x, y, z int) bool) {
	for x := box.Min[0]; x < box.Max[0]; x += step {
		for y := box.Min[1]; y < box.Max[1]; y += step {
			for z := box.Min[2]; z < box.Max[2]; z += step {
				if !fn(x, y, z) {
					return
				}
			}
		}
	}
}

// Ellipsoid fills the solid ellipsoid inscribed in the box.
func Ellipsoid(color int) Strategy {
	return func(b *Builder, box BBox, step int) {
		f := frameOf(box)
		each(box, step, func(x, y, z int) bool {
			dx := (float64(x) - f.cx) / f.rx
			dy := (float64(y) - f.cy) / f.ry
			dz := (float64(z) - f.cz) / f.rz
			if dx*dx+dy*dy+dz*dz <= 1 {
				return b.Add(x, y, z, color)
			}
			return true
		})
	}
}

// Slab fills a horizontal plate centered on the box's vertical midpoint.
func Slab(color int) Strategy {
	return func(b *Builder, box BBox, step int) {
		f := frameOf(box)
		thickness := max(2, int(0.25*f.sy))
		y0 := int(f.cy - float64(thickness)/2)
		y1 := int(f.cy + float64(thickness)/2)
		for x := box.Min[0]; x < box.Max[0]; x += step {
			for z := box.Min[2]; z < box.Max[2]; z += step {
				for y := y0; y <= y1; y += step {
					if !b.Add(x, y, z, color) {
						return
					}
				}
			}
		}
	}
}

// Cylinder fills an upright cylinder around the box's vertical axis.
func Cylinder(color int) Strategy {
	return func(b *Builder, box BBox, step int) {
		f := frameOf(box)
		r := float64(max(2, int(math.Min(f.rx, f.rz)*0.45)))
		each(box, step, func(x, y, z int) bool {
			dx := float64(x) - f.cx
			dz := float64(z) - f.cz
			if dx*dx+dz*dz <= r*r {
				return b.Add(x, y, z, color)
			}
			return true
		})
	}
}

// Cone fills a cone along x that tapers to half its radius.
func Cone(color int) Strategy {
	return func(b *Builder, box BBox, step int) {
		f := frameOf(box)
		each(box, step, func(x, y, z int) bool {
			progress := float64(x-box.Min[0]) / f.sx
			r := math.Max(1, f.rz*(1-progress*0.5))
			dy := float64(y) - f.cy
			dz := float64(z) - f.cz
			if dy*dy+dz*dz <= r*r {
				return b.Add(x, y, z, color)
			}
			return true
		})
	}
}

// Solid fills the whole box.
func Solid(color int) Strategy {
	return func(b *Builder, box BBox, step int) {
		each(box, step, func(x, y, z int) bool {
			return b.Add(x, y, z, color)
		})
	}
}

// StrategyTable maps part kinds to procedural strategies. Unknown kinds
// use the fallback.
type StrategyTable struct {
	mu       sync.RWMutex
	entries  map[PartKind]Strategy
	fallback Strategy
}

// NewStrategyTable returns a table with the built-in shapes registered.
func NewStrategyTable() *StrategyTable {
	t := &StrategyTable{
		entries:  make(map[PartKind]Strategy),
		fallback: Solid(ColorWhite),
	}
	t.Register(KindBody, Ellipsoid(ColorRed))
	t.Register(KindHead, Ellipsoid(ColorYellow))
	t.Register(KindWing, Slab(ColorBlue))
	t.Register(KindLeg, Cylinder(ColorMagenta))
	t.Register(KindArm, Cylinder(ColorMagenta))
	t.Register(KindNeck, Cylinder(ColorMagenta))
	t.Register(KindTail, Cone(ColorGreen))
	t.Register(KindBox, Solid(ColorWhite))
	return t
}

// Register adds or replaces the strategy for a kind.
func (t *StrategyTable) Register(kind PartKind, s Strategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[kind] = s
}

// Lookup returns the strategy for a kind, or the fallback.
func (t *StrategyTable) Lookup(kind PartKind) Strategy {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.entries[kind]; ok {
		return s
	}
	return t.fallback
}
