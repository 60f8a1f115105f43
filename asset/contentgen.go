package asset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PartRequest is what a content generator is asked to produce.
type PartRequest struct {
	Subject    string   `json:"subject"`
	PartID     string   `json:"partId"`
	Kind       PartKind `json:"kind"`
	BBox       BBox     `json:"bbox"`
	Resolution int      `json:"resolution"`
	Style      string   `json:"style,omitempty"`
	Pose       string   `json:"pose,omitempty"`
	Seed       int64    `json:"seed"`
}

// ContentGenerator is an external source of part geometry. Implementations
// return the raw response document; it is validated before use.
type ContentGenerator interface {
	Name() string
	GeneratePart(ctx context.Context, req *PartRequest) ([]byte, error)
}

// ErrMalformedContent marks generator output that failed validation.
var ErrMalformedContent = errors.New("malformed generator content")

// VoxelResponseSchema is the JSON Schema every generator response must satisfy.
const VoxelResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["voxels"],
  "additionalProperties": false,
  "properties": {
    "voxels": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["x", "y", "z", "c"],
        "additionalProperties": false,
        "properties": {
          "x": {"type": "integer"},
          "y": {"type": "integer"},
          "z": {"type": "integer"},
          "c": {"type": "integer"}
        }
      }
    }
  }
}`

var voxelSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("voxels.json", bytes.NewReader([]byte(VoxelResponseSchema))); err != nil {
		panic(fmt.Sprintf("add voxel schema: %v", err))
	}
	schema, err := compiler.Compile("voxels.json")
	if err != nil {
		panic(fmt.Sprintf("compile voxel schema: %v", err))
	}
	return schema
}

// DecodeGenerated validates raw generator output and turns it into voxels
// confined to box. The document must be a bare JSON object; surrounding
// prose or code fences are rejected. Coordinates are clamped into the box, colors into the
// palette, duplicates dropped and the result truncated to limit.
func DecodeGenerated(raw []byte, box BBox, limit int) ([]Voxel, error) {
	if box.Empty() {
		return nil, fmt.Errorf("%w: empty part box", ErrMalformedContent)
	}
	doc := bytes.TrimSpace(raw)

	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if err := voxelSchema.Validate(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	var resp struct {
		Voxels []Voxel `json:"voxels"`
	}
	if err := json.Unmarshal(doc, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	b := NewBuilder(box, limit)
	for _, vox := range resp.Voxels {
		x, y, z := box.Clamp(vox.X, vox.Y, vox.Z)
		if !b.Add(x, y, z, vox.C) {
			break
		}
	}
	return b.Voxels(), nil
}
