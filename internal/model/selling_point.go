package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SellingPoint is a stall within an event. Import resolution looks points up
// by exact name, so the name is unique per event.
type SellingPoint struct {
	ID        string  `gorm:"primaryKey;size:36" json:"id"`
	EventID   string  `gorm:"size:36;not null;uniqueIndex:uix_event_sp_name,priority:1" json:"event_id"`
	Name      string  `gorm:"size:128;not null;uniqueIndex:uix_event_sp_name,priority:2" json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	EPTs         []EPT         `gorm:"foreignKey:SellingPointID;constraint:OnDelete:CASCADE" json:"-"`
	Transactions []Transaction `gorm:"foreignKey:SellingPointID;constraint:OnDelete:CASCADE" json:"-"`
}

func (SellingPoint) TableName() string { return "selling_points" }

func (sp *SellingPoint) BeforeCreate(*gorm.DB) error {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	return nil
}
