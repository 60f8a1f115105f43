package job

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/internal/database"
)

// Common errors
var (
	ErrNotFound     = errors.New("job not found")
	ErrClosed       = errors.New("registry is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Backend is the durable store behind the registry. Save must be atomic:
// a reader sees either the previous or the new document, never a torn one.
type Backend interface {
	Save(ctx context.Context, job *Job) error
	Load(ctx context.Context, id string) (*Job, error)
	ListRecoverable(ctx context.Context) ([]*Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// BackendType selects a backend implementation.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendFile     BackendType = "file"
	BackendRedis    BackendType = "redis"
	BackendDatabase BackendType = "database"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TLS enables TLS to the server when non-nil.
	TLS *tls.Config `json:"-" yaml:"-"`
}

// BackendConfig is the configuration for all backend implementations.
type BackendConfig struct {
	Type BackendType `json:"type" yaml:"type"`

	// Dir is the artifacts root; manifests live in Dir/manifests.
	Dir string `json:"dir" yaml:"dir"`

	Redis RedisConfig `json:"redis" yaml:"redis"`

	Database     database.Config     `json:"database" yaml:"database"`
	DatabasePool database.PoolConfig `json:"database_pool" yaml:"database_pool"`
}

// NewBackend creates a Backend based on the configuration.
func NewBackend(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile, "":
		return NewFileBackend(cfg.Dir)
	case BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis)
	case BackendDatabase:
		db, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		poolCfg := cfg.DatabasePool
		if poolCfg == (database.PoolConfig{}) {
			poolCfg = database.DefaultPoolConfig()
		}
		pm, err := database.NewPoolManager(db, poolCfg, logger)
		if err != nil {
			return nil, err
		}
		return NewDatabaseBackend(ctx, pm, logger)
	default:
		return nil, fmt.Errorf("unsupported manifest backend: %s", cfg.Type)
	}
}

func validateJob(job *Job) error {
	if job == nil || job.ID == "" {
		return ErrInvalidInput
	}
	return nil
}

func sortByCreated(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

const pingTimeout = 5 * time.Second
