package asset

func box(x0, y0, z0, x1, y1, z1 float64) FracBox {
	return FracBox{Min: [3]float64{x0, y0, z0}, Max: [3]float64{x1, y1, z1}}
}

// DragonTemplate is the seven-part winged quadruped.
func DragonTemplate() Template {
	return Template{
		Name:     "dragon",
		Keywords: []string{"dragon", "wyvern", "drake"},
		Parts: []PartSpec{
			{ID: "body", Kind: KindBody, Box: box(0.25, 0.25, 0.30, 0.75, 0.55, 0.70)},
			{ID: "left_wing", Kind: KindWing, Box: box(0.30, 0.45, 0.00, 0.70, 0.65, 0.30)},
			{ID: "right_wing", Kind: KindWing, Box: box(0.30, 0.45, 0.70, 0.70, 0.65, 1.00)},
			{ID: "left_leg", Kind: KindLeg, Box: box(0.30, 0.00, 0.35, 0.40, 0.30, 0.45)},
			{ID: "right_leg", Kind: KindLeg, Box: box(0.60, 0.00, 0.55, 0.70, 0.30, 0.65)},
			{ID: "neck", Kind: KindNeck, Box: box(0.70, 0.45, 0.42, 0.85, 0.85, 0.58)},
			{ID: "tail", Kind: KindTail, Box: box(0.00, 0.30, 0.42, 0.30, 0.45, 0.58)},
		},
	}
}

// HumanoidTemplate is a bipedal figure standing along the y axis.
func HumanoidTemplate() Template {
	return Template{
		Name:     "humanoid",
		Keywords: []string{"humanoid", "knight", "robot", "warrior", "person", "character"},
		Parts: []PartSpec{
			{ID: "torso", Kind: KindBody, Box: box(0.35, 0.40, 0.40, 0.65, 0.75, 0.60)},
			{ID: "head", Kind: KindHead, Box: box(0.42, 0.75, 0.42, 0.58, 0.92, 0.58)},
			{ID: "left_arm", Kind: KindArm, Box: box(0.25, 0.40, 0.45, 0.35, 0.72, 0.55)},
			{ID: "right_arm", Kind: KindArm, Box: box(0.65, 0.40, 0.45, 0.75, 0.72, 0.55)},
			{ID: "left_leg", Kind: KindLeg, Box: box(0.38, 0.00, 0.44, 0.48, 0.40, 0.56)},
			{ID: "right_leg", Kind: KindLeg, Box: box(0.52, 0.00, 0.44, 0.62, 0.40, 0.56)},
		},
	}
}

// GenericTemplate is the single-part fallback spanning the whole volume.
func GenericTemplate() Template {
	return Template{
		Name:  "generic",
		Parts: []PartSpec{{ID: "body", Kind: KindBody, Box: box(0, 0, 0, 1, 1, 1)}},
	}
}
