package job

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestsDir is the subdirectory of the artifacts root holding manifests.
const ManifestsDir = "manifests"

// FileBackend stores one JSON manifest per job under <root>/manifests.
// Suitable for single-node deployments.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at the artifacts directory.
func NewFileBackend(root string) (*FileBackend, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty manifest root", ErrInvalidInput)
	}
	dir := filepath.Join(root, ManifestsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create manifest dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the manifest directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidInput, id)
	}
	return filepath.Join(b.dir, id+".json"), nil
}

// Save writes the manifest to a temp file and renames it into place.
func (b *FileBackend) Save(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	target, err := b.path(job.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(b.dir, job.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

func (b *FileBackend) Load(ctx context.Context, id string) (*Job, error) {
	path, err := b.path(id)
	if err != nil {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", id, err)
	}
	return &job, nil
}

// ListRecoverable scans the manifest directory. Unreadable manifests are
// skipped so one corrupt file cannot block recovery of the rest.
func (b *FileBackend) ListRecoverable(ctx context.Context) ([]*Job, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	var jobs []*Job
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := b.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if job.Status.IsRecoverable() {
			jobs = append(jobs, job)
		}
	}
	sortByCreated(jobs)
	return jobs, nil
}

func (b *FileBackend) Ping(ctx context.Context) error {
	info, err := os.Stat(b.dir)
	if err != nil {
		return fmt.Errorf("manifest dir unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("manifest path %s is not a directory", b.dir)
	}
	return nil
}

func (b *FileBackend) Close() error {
	return nil
}
