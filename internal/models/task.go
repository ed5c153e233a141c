package models

import "time"

// Task statuses.
const (
	TaskDispatched = "dispatched"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task failure reasons.
const (
	ReasonTimeout     = "timeout"
	ReasonWorkerError = "worker_error"
	ReasonLaunchError = "launch_error"
)

// Task is one role-specific unit of work within a session.
type Task struct {
	ID             string `gorm:"primaryKey;size:36"`
	SessionID      string `gorm:"size:36;not null;index"`
	Role           string `gorm:"size:64;not null"`
	RenderedPrompt string `gorm:"type:text"`
	Status         string `gorm:"size:16;not null;default:dispatched;index"`
	FailureReason  string `gorm:"size:32"`
	StartedAt      time.Time
	CompletedAt    *time.Time
}
