package models

import "time"

// IntegrationReport is the persisted, merged output of a session. List-valued
// fields are stored as JSON.
type IntegrationReport struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	SessionID       string  `gorm:"size:36;not null;uniqueIndex"`
	ConsensusBucket string  `gorm:"size:8;not null"`
	MeanSimilarity  float64 `gorm:"default:0"`
	Summaries       string  `gorm:"type:json"`
	Similarities    string  `gorm:"type:json"`
	Conflicts       string  `gorm:"type:json"`
	MissingRoles    string  `gorm:"type:json"`
	Synthesis       string  `gorm:"type:mediumtext"`
	Degraded        bool    `gorm:"default:false"`
	DegradedReason  string  `gorm:"size:256"`
	Fingerprint     string  `gorm:"size:64"`
	GeneratedAt     time.Time
}
