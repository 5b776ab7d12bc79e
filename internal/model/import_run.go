package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportRun records the outcome counters of one bulk import.
type ImportRun struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	EventID           string    `gorm:"size:36;not null;index" json:"event_id"`
	Parser            string    `gorm:"size:64;not null" json:"parser"`
	Processed         int       `gorm:"not null" json:"processed"`
	Inserted          int       `gorm:"not null" json:"inserted"`
	SkippedDuplicates int       `gorm:"not null" json:"skipped_duplicates"`
	Errors            int       `gorm:"not null" json:"errors"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ImportRun) TableName() string { return "import_runs" }

func (r *ImportRun) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
