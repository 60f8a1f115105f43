package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBackend keeps serialized manifests in memory. Useful for tests and
// ephemeral runs; nothing survives a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Save(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.docs[job.ID] = data
	return nil
}

func (b *MemoryBackend) Load(ctx context.Context, id string) (*Job, error) {
	b.mu.RLock()
	data, ok := b.docs[id]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", id, err)
	}
	return &job, nil
}

func (b *MemoryBackend) ListRecoverable(ctx context.Context) ([]*Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var jobs []*Job
	for id, data := range b.docs {
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", id, err)
		}
		if job.Status.IsRecoverable() {
			jobs = append(jobs, &job)
		}
	}
	sortByCreated(jobs)
	return jobs, nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
