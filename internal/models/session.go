package models

import (
	"encoding/json"
	"time"
)

// Session statuses, in lifecycle order.
const (
	SessionPending    = "pending"
	SessionCollecting = "collecting"
	SessionComplete   = "complete"
	SessionTimedOut   = "timed_out"
	SessionIntegrated = "integrated"
	SessionArchived   = "archived"
)

// Session groups every task fanned out for one request. ExpectedTaskCount
// and TaskIDs are fixed when the session is persisted.
type Session struct {
	ID                string    `gorm:"primaryKey;size:36"`
	Request           string    `gorm:"type:text;not null"`
	Status            string    `gorm:"size:16;not null;default:pending;index"`
	ExpectedTaskCount int       `gorm:"not null"`
	CompletedCount    int       `gorm:"not null;default:0"`
	FailedCount       int       `gorm:"not null;default:0"`
	TaskIDs           string    `gorm:"type:json"` // JSON array of task IDs
	ComplexityScore   int       `gorm:"default:0"`
	FinalizeTrigger   string    `gorm:"size:16"` // eager, deadline, reconcile
	Deadline          time.Time `gorm:"index"`
	CreatedAt         time.Time
	FinalizedAt       *time.Time
	IntegratedAt      *time.Time
	ArchivedAt        *time.Time
}

// TaskIDList decodes the TaskIDs column.
func (s *Session) TaskIDList() ([]string, error) {
	if s.TaskIDs == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.TaskIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Settled is the number of tasks that have reported in either direction.
func (s *Session) Settled() int {
	return s.CompletedCount + s.FailedCount
}

// Finalized reports whether the session has left the collecting state.
func (s *Session) Finalized() bool {
	switch s.Status {
	case SessionComplete, SessionTimedOut, SessionIntegrated, SessionArchived:
		return true
	}
	return false
}
