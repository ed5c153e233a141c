package models

import "time"

// ArchivedTask is a Task moved out of active storage.
type ArchivedTask struct {
	Task       `gorm:"embedded"`
	ArchivedAt time.Time `gorm:"index"`
}

// ArchivedResult is a Result moved out of active storage.
type ArchivedResult struct {
	Result     `gorm:"embedded"`
	ArchivedAt time.Time `gorm:"index"`
}
