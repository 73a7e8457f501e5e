package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransferOutcome is the final result of a transfer attempt.
type TransferOutcome string

const (
	TransferOutcomeSuccess TransferOutcome = "SUCCESS"
	TransferOutcomeFailed  TransferOutcome = "FAILED"
)

// Transfer is an append-only ledger entry. Records are never updated or deleted.
type Transfer struct {
	ID                uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	SourceCardID      uuid.UUID       `json:"source_card_id" gorm:"type:char(36);not null;index"`
	DestinationCardID *uuid.UUID      `json:"destination_card_id,omitempty" gorm:"type:char(36);index"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:decimal(20,2);not null"`
	Description       string          `json:"description,omitempty" gorm:"size:255"`
	Outcome           TransferOutcome `json:"outcome" gorm:"type:varchar(20);not null;index"`
	FailureReason     string          `json:"-" gorm:"type:text"`
	CreatedAt         time.Time       `json:"created_at" gorm:"index"`

	// Relations
	SourceCard      Card  `json:"-" gorm:"foreignKey:SourceCardID"`
	DestinationCard *Card `json:"-" gorm:"foreignKey:DestinationCardID"`
}

// BeforeCreate sets UUID before creating the record.
func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Involves reports whether the transfer touches the given card on either side.
func (t *Transfer) Involves(cardID uuid.UUID) bool {
	if t.SourceCardID == cardID {
		return true
	}
	return t.DestinationCardID != nil && *t.DestinationCardID == cardID
}
