package asset

import "sort"

// Assemble merges the fragments of one LOD into a voxel set. Fragments are
// visited in plan part order, then unknown part ids in sorted order, and
// the first voxel seen at a position wins.
func Assemble(fragments []Fragment, plan *GenerationPlan, lod int) *VoxelSet {
	order := plan.partIndex()
	sorted := make([]Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		oi, iKnown := order[sorted[i].PartID]
		oj, jKnown := order[sorted[j].PartID]
		switch {
		case iKnown && jKnown:
			return oi < oj
		case iKnown != jKnown:
			return iKnown
		default:
			return sorted[i].PartID < sorted[j].PartID
		}
	})

	total := 0
	for _, f := range sorted {
		total += len(f.Voxels)
	}
	seen := make(map[Vec3]struct{}, total)
	voxels := make([]Voxel, 0, total)
	for _, f := range sorted {
		for _, v := range f.Voxels {
			pos := v.Pos()
			if _, dup := seen[pos]; dup {
				continue
			}
			seen[pos] = struct{}{}
			voxels = append(voxels, v)
		}
	}

	palette := plan.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}

	return &VoxelSet{
		Res:     lod,
		Palette: palette,
		Voxels:  voxels,
		Meta: Meta{
			Subject:    plan.Subject,
			Style:      plan.Style,
			Pose:       plan.Pose,
			Parts:      len(plan.Parts),
			VoxelCount: len(voxels),
		},
	}
}
