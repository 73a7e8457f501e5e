package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bankcards/internal/model"
)

type transferRepository struct {
	db *gorm.DB
}

// NewTransferRepository creates a new transfer repository.
func NewTransferRepository(db *gorm.DB) TransferRepository {
	return &transferRepository{db: db}
}

// Append inserts a new transfer record.
func (r *transferRepository) Append(ctx context.Context, transfer *model.Transfer) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(transfer).Error
}

// FindByID finds a transfer by ID.
func (r *transferRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Transfer, error) {
	var transfer model.Transfer
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&transfer).Error; err != nil {
		return nil, translate(err)
	}
	return &transfer, nil
}

func (r *transferRepository) FindByUser(ctx context.Context, username string) ([]model.Transfer, error) {
	owned := r.db.Model(&model.Card{}).
		Select("cards.id").
		Joins("JOIN users ON users.id = cards.user_id").
		Where("users.username = ?", username)

	var transfers []model.Transfer
	err := r.db.WithContext(ctx).
		Where("source_card_id IN (?) OR destination_card_id IN (?)", owned, owned).
		Order("created_at DESC, id DESC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

func (r *transferRepository) FindByCard(ctx context.Context, cardID uuid.UUID) ([]model.Transfer, error) {
	var transfers []model.Transfer
	err := r.db.WithContext(ctx).
		Where("source_card_id = ? OR destination_card_id = ?", cardID, cardID).
		Order("created_at DESC, id DESC").
		Find(&transfers).Error
	if err != nil {
		return nil, err
	}
	return transfers, nil
}
