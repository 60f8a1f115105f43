package asset

// Color is an RGBA palette entry.
type Color [4]uint8

// PaletteSize is the number of entries in every palette.
const PaletteSize = 8

// DefaultPalette is the fixed palette shared by every plan: transparent,
// white, red, green, blue, yellow, magenta, cyan.
var DefaultPalette = []Color{
	{0, 0, 0, 0},
	{255, 255, 255, 255},
	{255, 100, 100, 255},
	{100, 255, 100, 255},
	{100, 100, 255, 255},
	{255, 255, 100, 255},
	{255, 100, 255, 255},
	{100, 255, 255, 255},
}

// Palette color indices used by the procedural shapes.
const (
	ColorTransparent = iota
	ColorWhite
	ColorRed
	ColorGreen
	ColorBlue
	ColorYellow
	ColorMagenta
	ColorCyan
)

// ClampColor forces a color index into the palette range.
func ClampColor(c int) int {
	if c < 0 {
		return 0
	}
	if c >= PaletteSize {
		return PaletteSize - 1
	}
	return c
}

// Vec3 is an integer grid coordinate.
type Vec3 [3]int

// Voxel is one occupied grid cell with a palette index.
type Voxel struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
	C int `json:"c"`
}

// Pos returns the voxel position.
func (v Voxel) Pos() Vec3 {
	return Vec3{v.X, v.Y, v.Z}
}

// BBox is a half-open integer box [Min, Max).
type BBox struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Size returns the extent along each axis.
func (b BBox) Size() Vec3 {
	var s Vec3
	for i := range s {
		if d := b.Max[i] - b.Min[i]; d > 0 {
			s[i] = d
		}
	}
	return s
}

// Volume returns the number of cells inside the box.
func (b BBox) Volume() int {
	s := b.Size()
	return s[0] * s[1] * s[2]
}

// Empty reports whether the box contains no cells.
func (b BBox) Empty() bool {
	return b.Volume() == 0
}

// Contains reports whether (x, y, z) lies inside the box.
func (b BBox) Contains(x, y, z int) bool {
	return x >= b.Min[0] && x < b.Max[0] &&
		y >= b.Min[1] && y < b.Max[1] &&
		z >= b.Min[2] && z < b.Max[2]
}

// Clamp moves (x, y, z) to the nearest cell inside a non-empty box.
func (b BBox) Clamp(x, y, z int) (int, int, int) {
	p := Vec3{x, y, z}
	for i := range p {
		if p[i] < b.Min[i] {
			p[i] = b.Min[i]
		}
		if p[i] >= b.Max[i] {
			p[i] = b.Max[i] - 1
		}
	}
	return p[0], p[1], p[2]
}

// Meta summarizes an assembled voxel set.
type Meta struct {
	Subject    string `json:"subject"`
	Style      string `json:"style"`
	Pose       string `json:"pose"`
	Parts      int    `json:"parts"`
	VoxelCount int    `json:"voxelCount"`
}

// VoxelSet is the assembled model for one LOD.
type VoxelSet struct {
	Res     int     `json:"res"`
	Origin  Vec3    `json:"origin"`
	Palette []Color `json:"palette"`
	Voxels  []Voxel `json:"voxels"`
	Meta    Meta    `json:"meta"`
}

// Source identifies which strategy produced a fragment.
type Source string

const (
	SourceGenerator  Source = "generator"
	SourceProcedural Source = "procedural"
	SourceNone       Source = "none"
)

// Fragment is the voxel output of one part at one LOD.
type Fragment struct {
	PartID string  `json:"partId"`
	Source Source  `json:"source"`
	Voxels []Voxel `json:"voxels"`
}

// EmptyFragment is the placeholder for a part whose synthesis failed.
func EmptyFragment(partID string) Fragment {
	return Fragment{PartID: partID, Source: SourceNone}
}
