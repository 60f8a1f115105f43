package generator

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"

	"github.com/BaSui01/voxelforge/asset"
)

// Stub is an offline content generator. It returns a hollow shell of the
// part box with a color derived from the part id and seed, so the same
// request always yields the same document.
type Stub struct {
	maxVoxels int
}

// NewStub creates a stub generator capped at maxVoxels per part.
func NewStub(maxVoxels int) *Stub {
	if maxVoxels <= 0 {
		maxVoxels = asset.DefaultMaxVoxels
	}
	return &Stub{maxVoxels: maxVoxels}
}

// Name implements asset.ContentGenerator.
func (s *Stub) Name() string { return "stub" }

// GeneratePart implements asset.ContentGenerator.
func (s *Stub) GeneratePart(ctx context.Context, req *asset.PartRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	box := req.BBox
	if box.Empty() {
		return nil, errors.New("stub: empty part box")
	}

	color := shellColor(req.PartID, req.Seed)
	step := asset.Stride(box, req.Resolution, s.maxVoxels)
	last := asset.Vec3{box.Max[0] - 1, box.Max[1] - 1, box.Max[2] - 1}

	voxels := make([]asset.Voxel, 0, 64)
	for x := box.Min[0]; x < box.Max[0]; x += step {
		for y := box.Min[1]; y < box.Max[1]; y += step {
			for z := box.Min[2]; z < box.Max[2]; z += step {
				if !onShell(x, y, z, box.Min, last, step) {
					continue
				}
				voxels = append(voxels, asset.Voxel{X: x, Y: y, Z: z, C: color})
				if len(voxels) >= s.maxVoxels {
					return json.Marshal(map[string][]asset.Voxel{"voxels": voxels})
				}
			}
		}
	}
	return json.Marshal(map[string][]asset.Voxel{"voxels": voxels})
}

// onShell reports whether a strided sample lies on the outer layer of the box.
func onShell(x, y, z int, lo, hi asset.Vec3, step int) bool {
	p := asset.Vec3{x, y, z}
	for i := range p {
		if p[i] == lo[i] || p[i]+step > hi[i] {
			return true
		}
	}
	return false
}

func shellColor(partID string, seed int64) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(partID))
	v := uint64(h.Sum32()) + uint64(seed)
	return 1 + int(v%uint64(asset.PaletteSize-1))
}
