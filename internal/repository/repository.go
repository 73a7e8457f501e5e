// Package repository holds the card, ledger and user stores.
package repository

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bankcards/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// TransferApplication describes a validated balance movement to be committed atomically.
type TransferApplication struct {
	SourceCardID      uuid.UUID
	DestinationCardID uuid.UUID
	Amount            decimal.Decimal
	Description       string
	// Verify re-runs the business checks against the locked snapshots. A non-nil error
	// aborts the unit with no side effects and is returned unchanged.
	Verify func(source, destination *model.Card) error
}

// CardRepository defines card persistence operations.
type CardRepository interface {
	Create(ctx context.Context, card *model.Card) error
	Save(ctx context.Context, card *model.Card) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]model.Card, error)
	// FindByLookupToken returns the candidate cards indexed under token.
	FindByLookupToken(ctx context.Context, token string) ([]model.Card, error)
	// FindUnindexed walks cards without a lookup token in id order, batchSize at a time,
	// until fn returns false.
	FindUnindexed(ctx context.Context, batchSize int, fn func(batch []model.Card) bool) error
	SetLookupToken(ctx context.Context, id uuid.UUID, token string) error
	// ApplyTransfer locks both cards in ascending id order, verifies, moves the amount and
	// appends a SUCCESS record as one unit.
	ApplyTransfer(ctx context.Context, app TransferApplication) (*model.Transfer, error)
}

// TransferRepository is the append-only transfer ledger.
type TransferRepository interface {
	Append(ctx context.Context, transfer *model.Transfer) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Transfer, error)
	// FindByUser returns transfers touching any card owned by username, newest first.
	FindByUser(ctx context.Context, username string) ([]model.Transfer, error)
	// FindByCard returns transfers touching cardID on either side, newest first.
	FindByCard(ctx context.Context, cardID uuid.UUID) ([]model.Transfer, error)
}

// UserRepository defines user persistence operations.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
}

// lockOrder returns the distinct ids in ascending byte order.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if a == b {
		return []uuid.UUID{a}
	}
	if bytes.Compare(a[:], b[:]) > 0 {
		return []uuid.UUID{b, a}
	}
	return []uuid.UUID{a, b}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
