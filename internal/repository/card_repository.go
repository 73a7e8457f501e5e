package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bankcards/internal/model"
)

var errStopScan = errors.New("stop scan")

type cardRepository struct {
	db *gorm.DB
}

// NewCardRepository creates a new card repository.
func NewCardRepository(db *gorm.DB) CardRepository {
	return &cardRepository{db: db}
}

// Create creates a new card.
func (r *cardRepository) Create(ctx context.Context, card *model.Card) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(card).Error
}

// Save persists every column of an existing card.
func (r *cardRepository) Save(ctx context.Context, card *model.Card) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(card).Error
}

// FindByID finds a card by ID.
func (r *cardRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	var card model.Card
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&card).Error; err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

// FindByUserID finds all cards owned by a user.
func (r *cardRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]model.Card, error) {
	var cards []model.Card
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *cardRepository) FindByLookupToken(ctx context.Context, token string) ([]model.Card, error) {
	var cards []model.Card
	if err := r.db.WithContext(ctx).Where("number_lookup = ?", token).Find(&cards).Error; err != nil {
		return nil, err
	}
	return cards, nil
}

func (r *cardRepository) FindUnindexed(ctx context.Context, batchSize int, fn func(batch []model.Card) bool) error {
	var cards []model.Card
	res := r.db.WithContext(ctx).
		Where("number_lookup = '' OR number_lookup IS NULL").
		FindInBatches(&cards, batchSize, func(tx *gorm.DB, _ int) error {
			if !fn(cards) {
				return errStopScan
			}
			return nil
		})
	if res.Error != nil && !errors.Is(res.Error, errStopScan) {
		return res.Error
	}
	return nil
}

func (r *cardRepository) SetLookupToken(ctx context.Context, id uuid.UUID, token string) error {
	res := r.db.WithContext(ctx).Model(&model.Card{}).Where("id = ?", id).Update("number_lookup", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *cardRepository) ApplyTransfer(ctx context.Context, app TransferApplication) (*model.Transfer, error) {
	var record *model.Transfer
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked := make(map[uuid.UUID]*model.Card, 2)
		for _, id := range lockOrder(app.SourceCardID, app.DestinationCardID) {
			var card model.Card
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", id).First(&card).Error; err != nil {
				return fmt.Errorf("lock card %s: %w", id, translate(err))
			}
			locked[id] = &card
		}

		source, destination := locked[app.SourceCardID], locked[app.DestinationCardID]
		if app.Verify != nil {
			if err := app.Verify(source, destination); err != nil {
				return err
			}
		}
		if source.ID == destination.ID {
			return errors.New("source and destination are the same card")
		}

		source.Balance = source.Balance.Sub(app.Amount)
		destination.Balance = destination.Balance.Add(app.Amount)
		for _, card := range []*model.Card{source, destination} {
			if err := tx.Model(&model.Card{}).Where("id = ?", card.ID).
				Update("balance", card.Balance).Error; err != nil {
				return fmt.Errorf("update balance of card %s: %w", card.ID, err)
			}
		}

		destinationID := destination.ID
		rec := &model.Transfer{
			SourceCardID:      source.ID,
			DestinationCardID: &destinationID,
			Amount:            app.Amount,
			Description:       app.Description,
			Outcome:           model.TransferOutcomeSuccess,
		}
		if err := tx.Omit(clause.Associations).Create(rec).Error; err != nil {
			return fmt.Errorf("append transfer record: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}
