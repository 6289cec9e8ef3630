package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound = errors.New("task not found")
)

type TaskStatus string

const (
	TaskBacklog    TaskStatus = "backlog"
	TaskInProgress TaskStatus = "in_progress"
	TaskWaiting    TaskStatus = "waiting"
	TaskDone       TaskStatus = "done"
)

type TaskPriority string

const (
	PriorityUrgent TaskPriority = "urgent"
	PriorityHigh   TaskPriority = "high"
	PriorityNormal TaskPriority = "normal"
	PriorityLow    TaskPriority = "low"
)

type Task struct {
	ID         string       `json:"id"`
	ProjectID  *string      `json:"projectID,omitempty"`
	Title      string       `json:"title"`
	Status     TaskStatus   `json:"status"`
	Priority   TaskPriority `json:"priority"`
	DueDate    *time.Time   `json:"dueDate,omitempty"`
	UserPinned bool         `json:"userPinned"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var (
	ErrCommitmentNotFound = errors.New("commitment not found")
)

type CommitmentDirection string

const (
	DirectionFromMe CommitmentDirection = "from_me"
	DirectionToMe   CommitmentDirection = "to_me"
)

type CommitmentStatus string

const (
	CommitmentOpen      CommitmentStatus = "open"
	CommitmentFulfilled CommitmentStatus = "fulfilled"
	CommitmentBroken    CommitmentStatus = "broken"
	CommitmentCancelled CommitmentStatus = "cancelled"
)

type Commitment struct {
	ID          string              `json:"id"`
	PersonID    *string             `json:"personID,omitempty"`
	ProjectID   *string             `json:"projectID,omitempty"`
	Direction   CommitmentDirection `json:"direction"`
	Description string              `json:"description"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	Status      CommitmentStatus    `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
