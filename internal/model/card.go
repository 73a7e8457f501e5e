package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CardStatus is the lifecycle state of a card.
type CardStatus string

const (
	CardStatusActive         CardStatus = "ACTIVE"
	CardStatusBlocked        CardStatus = "BLOCKED"
	CardStatusExpired        CardStatus = "EXPIRED"
	CardStatusPendingBlock   CardStatus = "PENDING_BLOCK"
	CardStatusPendingUnblock CardStatus = "PENDING_UNBLOCK"
)

// Valid reports whether s is one of the known statuses.
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired, CardStatusPendingBlock, CardStatusPendingUnblock:
		return true
	}
	return false
}

// Card is a payment card owned by a single user. The number is stored encrypted only.
type Card struct {
	ID              uuid.UUID       `json:"id" gorm:"type:char(36);primaryKey"`
	UserID          uuid.UUID       `json:"user_id" gorm:"type:char(36);not null;index"`
	EncryptedNumber string          `json:"-" gorm:"type:text;not null"`
	NumberLookup    string          `json:"-" gorm:"size:64;index"` // keyed HMAC of the number, empty until indexed
	HolderName      string          `json:"holder_name" gorm:"size:255;not null"`
	ExpiryDate      time.Time       `json:"expiry_date" gorm:"type:date;not null"`
	Status          CardStatus      `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	Balance         decimal.Decimal `json:"balance" gorm:"type:decimal(20,2);not null;default:0"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	// Relations
	User User `json:"-" gorm:"foreignKey:UserID"`
}

// BeforeCreate sets UUID before creating the record.
func (c *Card) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the card may take part in a transfer.
func (c *Card) IsActive() bool {
	return c.Status == CardStatusActive
}
