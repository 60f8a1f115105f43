package job

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/types"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status accepts no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsRecoverable reports whether a persisted job should be resumed after a restart.
func (s Status) IsRecoverable() bool {
	return s == StatusQueued || s == StatusRunning
}

// CanTransitionTo reports whether next is the status that may follow s.
// A job never skips running: queued only moves to running, and running
// only moves to a terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// ProgressEntry is one line of a job's progress log.
type ProgressEntry struct {
	T   time.Time `json:"t"`
	Msg string    `json:"msg"`
}

// Failure is the error recorded on a failed job.
type Failure struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

// Job is the manifest of one generation request.
type Job struct {
	ID        string                         `json:"jobId"`
	Status    Status                         `json:"status"`
	CreatedAt time.Time                      `json:"createdAt"`
	UpdatedAt time.Time                      `json:"updatedAt"`
	Prompt    Prompt                         `json:"prompt"`
	Plan      *asset.GenerationPlan          `json:"plan,omitempty"`
	Progress  []ProgressEntry                `json:"progress"`
	Artifacts map[string]artifact.Descriptor `json:"artifacts"`
	Error     *Failure                       `json:"error,omitempty"`
}

// Clone returns a deep copy. Plans are immutable once attached and are shared.
func (j *Job) Clone() *Job {
	c := *j
	c.Progress = make([]ProgressEntry, len(j.Progress))
	copy(c.Progress, j.Progress)
	c.Artifacts = make(map[string]artifact.Descriptor, len(j.Artifacts))
	for k, v := range j.Artifacts {
		c.Artifacts[k] = v
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}

// LODKey is the manifest key of an artifact.
func LODKey(lod int) string {
	return strconv.Itoa(lod)
}

// NewID returns a fresh job id: "job_" followed by 12 hex characters.
func NewID() string {
	u := uuid.New()
	return "job_" + hex.EncodeToString(u[:6])
}
