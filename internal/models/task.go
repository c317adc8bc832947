package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Task lifecycle states, from posting through settlement.
const (
	TaskStatusPosted      = "posted"
	TaskStatusAccepted    = "accepted"
	TaskStatusInProgress  = "in_progress"
	TaskStatusSubmitted   = "submitted"
	TaskStatusUnderReview = "under_review"
	TaskStatusCompleted   = "completed"
	TaskStatusDisputed    = "disputed"
	TaskStatusCancelled   = "cancelled"
)

type Task struct {
	ID                  uuid.UUID       `json:"id"`
	RequesterID         uuid.UUID       `json:"requester_id"`
	WorkerID            *uuid.UUID      `json:"worker_id,omitempty"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Value               decimal.Decimal `json:"value"`
	Status              string          `json:"status"`
	SubmittedAt         *time.Time      `json:"submitted_at,omitempty"`
	AutoReleaseDeadline *time.Time      `json:"auto_release_deadline,omitempty"`
	DisputeDeadline     *time.Time      `json:"dispute_deadline,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Terminal reports whether no further transition is defined out of the
// task's current state.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusCancelled
}
