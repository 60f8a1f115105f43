package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores manifests as JSON strings, with the ids of
// non-terminal jobs kept in a set for restart recovery.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		PoolSize:  cfg.PoolSize,
		TLSConfig: cfg.TLS,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = "voxelforge:"
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix + "manifest:"}
}

func (b *RedisBackend) docKey(id string) string {
	return b.keyPrefix + id
}

func (b *RedisBackend) activeKey() string {
	return b.keyPrefix + "active"
}

// Save writes the document and updates the recovery index in one transaction.
func (b *RedisBackend) Save(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.docKey(job.ID), data, 0)
		if job.Status.IsRecoverable() {
			pipe.SAdd(ctx, b.activeKey(), job.ID)
		} else {
			pipe.SRem(ctx, b.activeKey(), job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save manifest %s: %w", job.ID, err)
	}
	return nil
}

func (b *RedisBackend) Load(ctx context.Context, id string) (*Job, error) {
	data, err := b.client.Get(ctx, b.docKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", id, err)
	}
	return &job, nil
}

func (b *RedisBackend) ListRecoverable(ctx context.Context) ([]*Job, error) {
	ids, err := b.client.SMembers(ctx, b.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active manifests: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.docKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load active manifests: %w", err)
	}

	jobs := make([]*Job, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		if job.Status.IsRecoverable() {
			jobs = append(jobs, &job)
		}
	}
	sortByCreated(jobs)
	return jobs, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
