package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bankcards/internal/cardcipher"
	apperrors "bankcards/internal/errors"
	"bankcards/internal/model"
	"bankcards/internal/repository"
)

const defaultScanBatch = 200

// CardCipher is the subset of cardcipher.Cipher the services depend on.
type CardCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Matches(plaintext, ciphertext string) bool
	Mask(ciphertext string) string
	LookupToken(plaintext string) (string, error)
}

// CardRegistration is the input for adding a card to the directory.
type CardRegistration struct {
	UserID     uuid.UUID
	Number     string
	HolderName string
	ExpiryDate time.Time
	Status     model.CardStatus
	Balance    decimal.Decimal
}

// CardDirectory resolves cards by id or by plaintext number. It owns no business rules.
type CardDirectory struct {
	cards     repository.CardRepository
	cipher    CardCipher
	log       *logrus.Logger
	scanBatch int
}

// NewCardDirectory creates a card directory.
func NewCardDirectory(cards repository.CardRepository, cipher CardCipher, log *logrus.Logger) *CardDirectory {
	return &CardDirectory{cards: cards, cipher: cipher, log: log, scanBatch: defaultScanBatch}
}

// FindByID returns the card or a CardNotFound error.
func (d *CardDirectory) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	card, err := d.cards.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.CardNotFound(id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find card %s: %w", id, err)
	}
	return card, nil
}

// FindByPlaintextNumber resolves a card by its number.
//
// Indexed cards are found through their keyed lookup token. Cards that predate the index
// are found by decrypting each unindexed row and comparing, which is O(n) in the number of
// unindexed cards and caps lookup throughput until LookupIndexer has backfilled them.
func (d *CardDirectory) FindByPlaintextNumber(ctx context.Context, plaintext string) (*model.Card, error) {
	token, err := d.cipher.LookupToken(plaintext)
	if errors.Is(err, cardcipher.ErrInvalidInput) {
		return nil, apperrors.InvalidInput("invalid card number")
	}
	if err != nil {
		return nil, apperrors.Crypto("card lookup", err)
	}

	candidates, err := d.cards.FindByLookupToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("find card by lookup token: %w", err)
	}
	for i := range candidates {
		if d.cipher.Matches(plaintext, candidates[i].EncryptedNumber) {
			return &candidates[i], nil
		}
	}

	var found *model.Card
	scanned := 0
	err = d.cards.FindUnindexed(ctx, d.scanBatch, func(batch []model.Card) bool {
		for i := range batch {
			scanned++
			if d.cipher.Matches(plaintext, batch[i].EncryptedNumber) {
				card := batch[i]
				found = &card
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan unindexed cards: %w", err)
	}
	if found != nil {
		d.log.WithFields(logrus.Fields{"card_id": found.ID, "scanned": scanned}).
			Debug("card resolved by unindexed scan")
		return found, nil
	}
	return nil, apperrors.CardNotFound("")
}

// Save persists a fully constructed card.
func (d *CardDirectory) Save(ctx context.Context, card *model.Card) error {
	if err := d.cards.Save(ctx, card); err != nil {
		return fmt.Errorf("save card %s: %w", card.ID, err)
	}
	return nil
}

// Register encrypts and indexes a new card number and stores the card.
func (d *CardDirectory) Register(ctx context.Context, reg CardRegistration) (*model.Card, error) {
	if reg.Balance.IsNegative() {
		return nil, apperrors.InvalidInput("balance must not be negative")
	}
	if reg.HolderName == "" {
		return nil, apperrors.InvalidInput("holder name is required")
	}
	status := reg.Status
	if status == "" {
		status = model.CardStatusActive
	}
	if !status.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown card status %q", status))
	}

	encrypted, err := d.cipher.Encrypt(reg.Number)
	if errors.Is(err, cardcipher.ErrInvalidInput) {
		return nil, apperrors.InvalidInput("invalid card number")
	}
	if err != nil {
		return nil, apperrors.Crypto("card encryption", err)
	}
	token, err := d.cipher.LookupToken(reg.Number)
	if err != nil {
		return nil, apperrors.Crypto("card lookup token", err)
	}

	card := &model.Card{
		UserID:          reg.UserID,
		EncryptedNumber: encrypted,
		NumberLookup:    token,
		HolderName:      reg.HolderName,
		ExpiryDate:      reg.ExpiryDate,
		Status:          status,
		Balance:         reg.Balance.Round(2),
	}
	if err := d.cards.Create(ctx, card); err != nil {
		return nil, fmt.Errorf("create card: %w", err)
	}
	return card, nil
}
