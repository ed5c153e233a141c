package models

import "time"

// Result statuses as reported by a worker.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Result is a worker's output for one task. The composite primary key makes
// the insert create-if-absent; rows are never updated.
type Result struct {
	SessionID       string `gorm:"primaryKey;size:36"`
	TaskID          string `gorm:"primaryKey;size:36"`
	Role            string `gorm:"size:64;not null"`
	Status          string `gorm:"size:16;not null"`
	Payload         string `gorm:"type:mediumtext"`
	ExecutionTimeMs int64
	Late            bool `gorm:"default:false"` // arrived after the session was finalized
	ReceivedAt      time.Time
}
