package domain

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("job with this dedupe key already exists")
)

// JobStatus is the lifecycle state of a queued unit of work.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobRetry      JobStatus = "retry"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// JobKind enumerates the cold-path handlers the Worker dispatches to.
type JobKind string

const (
	KindSessionProcess JobKind = "session_process"
	KindTurnSummary    JobKind = "turn_summary"
	KindEntityExtract  JobKind = "entity_extract"
	KindArtifactExtract JobKind = "artifact_extract"
	KindSessionSummary JobKind = "session_summary"
	KindSkillExtract   JobKind = "skill_extract"
)

// Job is a durable, lease-locked unit of work. Jobs are independent of the
// domain entity they reference — they hold IDs in their opaque payload.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	Payload     []byte    `json:"payload"` // opaque JSON
	DedupeKey   *string   `json:"dedupeKey,omitempty"`
	Status      JobStatus `json:"status"`
	Priority    int       `json:"priority"` // lower runs first
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"maxAttempts"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
	LockedBy    *string    `json:"lockedBy,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
