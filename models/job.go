package models

import "time"

// Pipeline stages in execution order.
const (
	StageParse     = "parse"
	StageResolve   = "resolve"
	StageAggregate = "aggregate"
	StageSave      = "save"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Job is one durable pipeline run for a user's upload. Stage and
// Progress are updated after each step so callers can poll.
type Job struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage"`
	Progress  int       `json:"progress"` // 0-100
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
