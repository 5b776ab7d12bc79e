package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Event struct {
	ID      string    `gorm:"primaryKey;size:36" json:"id"`
	Name    string    `gorm:"size:128;uniqueIndex;not null" json:"name"`
	StartAt time.Time `gorm:"not null" json:"start_at"`
	EndAt   time.Time `gorm:"not null" json:"end_at"`

	SellingPoints []SellingPoint `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Transactions  []Transaction  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

func (Event) TableName() string { return "events" }

func (e *Event) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
