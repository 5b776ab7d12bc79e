package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider identifies the payment provider behind a terminal.
type Provider string

const (
	ProviderWorldline Provider = "worldline"
	ProviderSumup     Provider = "sumup"
	ProviderOther     Provider = "other"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderWorldline, ProviderSumup, ProviderOther:
		return true
	}
	return false
}

// EPT is an electronic payment terminal tied to one selling point.
type EPT struct {
	ID             string   `gorm:"primaryKey;size:36" json:"id"`
	SellingPointID string   `gorm:"size:36;not null;index" json:"selling_point_id"`
	Provider       Provider `gorm:"size:16;not null" json:"provider"`
	Label          string   `gorm:"size:64;not null" json:"label"`

	Transactions []Transaction `gorm:"foreignKey:EPTID;constraint:OnDelete:CASCADE" json:"-"`
}

func (EPT) TableName() string { return "epts" }

func (e *EPT) BeforeCreate(*gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
