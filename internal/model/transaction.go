package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transaction is one payment captured at an EPT. The (source,
// source_row_hash) pair is the sole dedup key for bulk imports; the unique
// index makes re-imports idempotent without any in-process locking.
type Transaction struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	EventID        string    `gorm:"size:36;not null;index:ix_transactions_event_occurred,priority:1" json:"event_id"`
	SellingPointID string    `gorm:"size:36;not null;index" json:"selling_point_id"`
	EPTID          string    `gorm:"size:36;not null;index" json:"ept_id"`
	AmountCents    int64     `gorm:"not null" json:"amount_cents"`
	Currency       string    `gorm:"size:3;not null;default:CHF" json:"currency"`
	OccurredAt     time.Time `gorm:"not null;index:ix_transactions_event_occurred,priority:2" json:"occurred_at"`
	CardLast4      string    `gorm:"size:4" json:"card_last4"`
	Source         string    `gorm:"size:64;not null;uniqueIndex:uix_source_hash,priority:1" json:"source"`
	SourceRowHash  string    `gorm:"size:64;not null;uniqueIndex:uix_source_hash,priority:2" json:"source_row_hash"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Currency == "" {
		t.Currency = "CHF"
	}
	return nil
}
