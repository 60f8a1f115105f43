package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/voxelforge/internal/database"
)

const saveRetries = 3

// manifestRecord is the table row behind DatabaseBackend.
type manifestRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:16;index"`
	Document  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (manifestRecord) TableName() string {
	return "job_manifests"
}

// DatabaseBackend stores manifests in a SQL table through GORM.
type DatabaseBackend struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewDatabaseBackend migrates the manifest table and returns the backend.
func NewDatabaseBackend(ctx context.Context, pool *database.PoolManager, logger *zap.Logger) (*DatabaseBackend, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil database pool", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().WithContext(ctx).AutoMigrate(&manifestRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate manifest table: %w", err)
	}
	return &DatabaseBackend{
		pool:   pool,
		logger: logger.With(zap.String("component", "manifest_db")),
	}, nil
}

// Save upserts the manifest row inside a transaction.
func (b *DatabaseBackend) Save(ctx context.Context, job *Job) error {
	if err := validateJob(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	rec := manifestRecord{
		ID:        job.ID,
		Status:    string(job.Status),
		Document:  string(data),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	return b.pool.WithTransactionRetry(ctx, saveRetries, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "document", "updated_at"}),
		}).Create(&rec).Error
	})
}

func (b *DatabaseBackend) Load(ctx context.Context, id string) (*Job, error) {
	var rec manifestRecord
	err := b.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", id, err)
	}
	return decodeRecord(rec)
}

func (b *DatabaseBackend) ListRecoverable(ctx context.Context) ([]*Job, error) {
	var recs []manifestRecord
	err := b.pool.DB().WithContext(ctx).
		Where("status IN ?", []string{string(StatusQueued), string(StatusRunning)}).
		Order("created_at").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	jobs := make([]*Job, 0, len(recs))
	for _, rec := range recs {
		job, err := decodeRecord(rec)
		if err != nil {
			b.logger.Warn("skipping unreadable manifest", zap.String("job_id", rec.ID), zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	sortByCreated(jobs)
	return jobs, nil
}

func decodeRecord(rec manifestRecord) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(rec.Document), &job); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", rec.ID, err)
	}
	return &job, nil
}

func (b *DatabaseBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *DatabaseBackend) Close() error {
	return b.pool.Close()
}
