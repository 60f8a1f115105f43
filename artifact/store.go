package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/asset"
)

const (
	// VoxelsDir is the artifact subdirectory holding voxel documents.
	VoxelsDir = "voxels"
	// URLPrefix is the path under which artifacts are served.
	URLPrefix = "/artifacts/voxels/"
)

var (
	ErrInvalidName = errors.New("invalid artifact name")
	ErrNotFound    = errors.New("artifact not found")
)

var namePattern = regexp.MustCompile(`^asset_[0-9a-f]{16}_lod[0-9]+\.json$`)

// Descriptor references an exported LOD from a job manifest.
type Descriptor struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Res  int    `json:"res"`
}

// Name returns the artifact file name.
func (d Descriptor) Name() string {
	return filepath.Base(d.Path)
}

// Store persists voxel sets as content-addressed files. Exports are
// idempotent: identical content maps to the same file, written once.
type Store struct {
	root   string
	dir    string
	logger *zap.Logger
}

// NewStore creates a store rooted at root, creating the voxel directory.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(root, VoxelsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &Store{
		root:   root,
		dir:    dir,
		logger: logger.With(zap.String("component", "artifact_store")),
	}, nil
}

// Root returns the artifacts root directory.
func (s *Store) Root() string {
	return s.root
}

// canonical sorts voxels by position so the serialization does not depend
// on synthesis order.
func canonical(set *asset.VoxelSet) *asset.VoxelSet {
	out := *set
	out.Voxels = make([]asset.Voxel, len(set.Voxels))
	copy(out.Voxels, set.Voxels)
	sort.Slice(out.Voxels, func(i, j int) bool {
		a, b := out.Voxels[i], out.Voxels[j]
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return &out
}

// ContentHash returns the hex SHA-256 of the canonical (plan, set) pair.
func ContentHash(plan *asset.GenerationPlan, set *asset.VoxelSet) (string, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	setJSON, err := json.Marshal(canonical(set))
	if err != nil {
		return "", fmt.Errorf("marshal voxel set: %w", err)
	}
	h := sha256.New()
	h.Write(planJSON)
	h.Write([]byte{0})
	h.Write(setJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileName derives the artifact file name from a content hash.
func FileName(hash string, lod int) string {
	return "asset_" + hash[:16] + "_lod" + strconv.Itoa(lod) + ".json"
}

// Export writes the voxel set for lod unless an artifact with the same
// content already exists, and returns its descriptor.
func (s *Store) Export(ctx context.Context, set *asset.VoxelSet, plan *asset.GenerationPlan, lod int) (Descriptor, error) {
	if err := ctx.Err(); err != nil {
		return Descriptor{}, err
	}

	hash, err := ContentHash(plan, set)
	if err != nil {
		return Descriptor{}, err
	}
	name := FileName(hash, lod)
	desc := Descriptor{Path: URLPrefix + name, Hash: hash, Res: lod}
	target := filepath.Join(s.dir, name)

	if _, err := os.Stat(target); err == nil {
		s.logger.Debug("artifact already exported", zap.String("file", name))
		return desc, nil
	} else if !os.IsNotExist(err) {
		return Descriptor{}, fmt.Errorf("stat artifact: %w", err)
	}

	data, err := json.Marshal(canonical(set))
	if err != nil {
		return Descriptor{}, fmt.Errorf("marshal artifact: %w", err)
	}
	if err := writeAtomic(s.dir, target, data); err != nil {
		return Descriptor{}, err
	}

	s.logger.Info("artifact exported",
		zap.String("file", name),
		zap.Int("lod", lod),
		zap.Int("voxels", len(set.Voxels)),
		zap.Int("bytes", len(data)))
	return desc, nil
}

// writeAtomic writes data to a temp file in dir and renames it over target.
func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".asset-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}

// Resolve maps an artifact file name to its path, rejecting anything that
// is not a well-formed artifact name.
func (s *Store) Resolve(name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	return path, nil
}

// Load reads an exported voxel set back.
func (s *Store) Load(ctx context.Context, name string) (*asset.VoxelSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var set asset.VoxelSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return &set, nil
}
