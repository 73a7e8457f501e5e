package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "bankcards/internal/errors"
	"bankcards/internal/model"
	"bankcards/internal/repository"
)

// CardView is the display-safe form of a card.
type CardView struct {
	ID         uuid.UUID        `json:"id"`
	Number     string           `json:"number"`
	HolderName string           `json:"holder_name"`
	ExpiryDate time.Time        `json:"expiry_date"`
	Status     model.CardStatus `json:"status"`
	Balance    decimal.Decimal  `json:"balance"`
}

// CardService exposes the caller's cards with masked numbers.
type CardService interface {
	ListUserCards(ctx context.Context, username string) ([]CardView, error)
	GetBalance(ctx context.Context, cardID uuid.UUID, username string) (decimal.Decimal, error)
}

type cardService struct {
	users  repository.UserRepository
	cards  repository.CardRepository
	cipher CardCipher
}

// NewCardService creates a new card service.
func NewCardService(users repository.UserRepository, cards repository.CardRepository, cipher CardCipher) CardService {
	return &cardService{users: users, cards: cards, cipher: cipher}
}

// ListUserCards returns the caller's cards, oldest first.
func (s *cardService) ListUserCards(ctx context.Context, username string) ([]CardView, error) {
	user, err := s.owner(ctx, username, "user", username)
	if err != nil {
		return nil, err
	}
	cards, err := s.cards.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	views := make([]CardView, 0, len(cards))
	for _, c := range cards {
		views = append(views, CardView{
			ID:         c.ID,
			Number:     s.cipher.Mask(c.EncryptedNumber),
			HolderName: c.HolderName,
			ExpiryDate: c.ExpiryDate,
			Status:     c.Status,
			Balance:    c.Balance,
		})
	}
	return views, nil
}

// GetBalance retrieves the current balance of one of the caller's cards.
func (s *cardService) GetBalance(ctx context.Context, cardID uuid.UUID, username string) (decimal.Decimal, error) {
	user, err := s.owner(ctx, username, "card", cardID.String())
	if err != nil {
		return decimal.Zero, err
	}
	card, err := s.cards.FindByID(ctx, cardID)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, apperrors.CardNotFound(cardID.String())
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get card: %w", err)
	}
	if card.UserID != user.ID {
		return decimal.Zero, apperrors.OwnershipDenied(cardID.String())
	}
	return card.Balance, nil
}

func (s *cardService) owner(ctx context.Context, username, resource, id string) (*model.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Forbidden(resource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}
