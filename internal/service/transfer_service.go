package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"bankcards/internal/cache"
	"bankcards/internal/cardcipher"
	apperrors "bankcards/internal/errors"
	"bankcards/internal/model"
	"bankcards/internal/notify"
	"bankcards/internal/repository"
)

const (
	// MaxDescriptionLength is the longest accepted transfer description, in characters.
	MaxDescriptionLength = 255
	defaultCacheTTL      = time.Minute
	// defaultStaleReadWindow covers a history read that started before a commit and
	// writes its views to the cache after the commit's invalidation.
	defaultStaleReadWindow = 2 * time.Second
)

// maxAmount keeps amounts inside decimal(20,2).
var maxAmount = decimal.New(1, 18)

// CreateTransferInput is a request to move money between two of the requester's cards.
type CreateTransferInput struct {
	SourceCardID          uuid.UUID
	DestinationCardNumber string
	Amount                decimal.Decimal
	Description           string
}

// TransferView is the display-safe form of a transfer record.
type TransferView struct {
	ID                    uuid.UUID             `json:"id"`
	SourceCardID          uuid.UUID             `json:"source_card_id"`
	SourceCardNumber      string                `json:"source_card_number"`
	DestinationCardID     *uuid.UUID            `json:"destination_card_id,omitempty"`
	DestinationCardNumber string                `json:"destination_card_number,omitempty"`
	Amount                decimal.Decimal       `json:"amount"`
	Description           string                `json:"description,omitempty"`
	Status                model.TransferOutcome `json:"status"`
	CreatedAt             time.Time             `json:"created_at"`
}

// HistoryCache stores rendered history views. *cache.Client satisfies it and is safe to
// use when redis is unavailable.
type HistoryCache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// NoticeQueue accepts transfer receipts for asynchronous delivery.
type NoticeQueue interface {
	Enqueue(n notify.Notice) bool
}

// TransferService handles card-to-card transfer operations.
type TransferService interface {
	CreateTransfer(ctx context.Context, username string, in CreateTransferInput) (*TransferView, error)
	ListUserTransfers(ctx context.Context, username string) ([]TransferView, error)
	ListCardTransfers(ctx context.Context, cardID uuid.UUID, username string) ([]TransferView, error)
	GetTransfer(ctx context.Context, transferID uuid.UUID, username string) (*TransferView, error)
}

// TransferDeps are the collaborators of the transfer service. Cache and Notices may be nil.
type TransferDeps struct {
	Users     repository.UserRepository
	Cards     repository.CardRepository
	Transfers repository.TransferRepository
	Directory *CardDirectory
	Cipher    CardCipher
	Cache     HistoryCache
	CacheTTL  time.Duration
	// StaleReadWindow is how long after a commit the history keys are invalidated again.
	StaleReadWindow time.Duration
	Notices         NoticeQueue
	Log             *logrus.Logger
}

type transferService struct {
	users     repository.UserRepository
	cards     repository.CardRepository
	transfers repository.TransferRepository
	directory *CardDirectory
	cipher    CardCipher
	cache     HistoryCache
	cacheTTL  time.Duration
	staleRead time.Duration
	notices   NoticeQueue
	log       *logrus.Logger
}

// NewTransferService creates a new transfer service.
func NewTransferService(deps TransferDeps) TransferService {
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	staleRead := deps.StaleReadWindow
	if staleRead <= 0 {
		staleRead = defaultStaleReadWindow
	}
	var history HistoryCache = (*cache.Client)(nil)
	if deps.Cache != nil {
		history = deps.Cache
	}
	return &transferService{
		users:     deps.Users,
		cards:     deps.Cards,
		transfers: deps.Transfers,
		directory: deps.Directory,
		cipher:    deps.Cipher,
		cache:     history,
		cacheTTL:  ttl,
		staleRead: staleRead,
		notices:   deps.Notices,
		log:       deps.Log,
	}
}

// CreateTransfer validates and applies a transfer. Any rejection before the balances are
// touched leaves no trace. A failure while applying is logged, recorded as FAILED and
// reported as a generic transfer failure.
func (s *transferService) CreateTransfer(ctx context.Context, username string, in CreateTransferInput) (*TransferView, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return nil, apperrors.InvalidInput(fmt.Sprintf("description must be at most %d characters", MaxDescriptionLength))
	}

	requester, err := s.requester(ctx, username, "card", in.SourceCardID.String())
	if err != nil {
		return nil, err
	}

	source, err := s.directory.FindByID(ctx, in.SourceCardID)
	if err != nil {
		return nil, err
	}
	if err := checkCard(source, requester.ID); err != nil {
		return nil, err
	}

	destination, err := s.directory.FindByPlaintextNumber(ctx, in.DestinationCardNumber)
	if err != nil {
		return nil, err
	}
	if err := checkPair(source, destination, requester.ID, in.Amount); err != nil {
		return nil, err
	}

	// Balances and statuses read above may be stale; the store re-checks them under lock.
	record, err := s.cards.ApplyTransfer(ctx, repository.TransferApplication{
		SourceCardID:      source.ID,
		DestinationCardID: destination.ID,
		Amount:            in.Amount,
		Description:       in.Description,
		Verify: func(src, dst *model.Card) error {
			if err := checkCard(src, requester.ID); err != nil {
				return err
			}
			return checkPair(src, dst, requester.ID, in.Amount)
		},
	})
	if err != nil {
		return nil, s.handleApplyFailure(ctx, username, source, destination, in, err)
	}

	s.invalidate(ctx, username, source.ID, destination.ID)

	view := &TransferView{
		ID:                    record.ID,
		SourceCardID:          source.ID,
		SourceCardNumber:      s.cipher.Mask(source.EncryptedNumber),
		DestinationCardID:     record.DestinationCardID,
		DestinationCardNumber: s.cipher.Mask(destination.EncryptedNumber),
		Amount:                record.Amount,
		Description:           record.Description,
		Status:                record.Outcome,
		CreatedAt:             record.CreatedAt,
	}

	s.log.WithFields(logrus.Fields{
		"transfer_id":         record.ID,
		"source_card_id":      source.ID,
		"destination_card_id": destination.ID,
		"amount":              in.Amount.StringFixed(2),
		"username":            username,
	}).Info("transfer completed")

	s.notify(requester, view)
	return view, nil
}

func (s *transferService) handleApplyFailure(ctx context.Context, username string, source, destination *model.Card, in CreateTransferInput, err error) error {
	if typed, ok := apperrors.As(err); ok {
		return typed
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.CardNotFound("")
	}

	fields := logrus.Fields{
		"source_card_id":      source.ID,
		"destination_card_id": destination.ID,
		"amount":              in.Amount.StringFixed(2),
		"username":            username,
	}
	s.log.WithError(err).WithFields(fields).Error("transfer failed while applying balances")

	// The attempt stays auditable even if the request context is already gone.
	auditCtx := context.WithoutCancel(ctx)
	destinationID := destination.ID
	failed := &model.Transfer{
		SourceCardID:      source.ID,
		DestinationCardID: &destinationID,
		Amount:            in.Amount,
		Description:       in.Description,
		Outcome:           model.TransferOutcomeFailed,
		FailureReason:     err.Error(),
	}
	if appendErr := s.transfers.Append(auditCtx, failed); appendErr != nil {
		s.log.WithError(appendErr).WithFields(fields).Error("failed to record failed transfer")
	} else {
		s.invalidate(auditCtx, username, source.ID, destination.ID)
	}
	return apperrors.TransferFailed(err)
}

// ListUserTransfers returns transfers touching any of the requester's cards, newest first.
func (s *transferService) ListUserTransfers(ctx context.Context, username string) ([]TransferView, error) {
	if _, err := s.requester(ctx, username, "user", username); err != nil {
		return nil, err
	}

	key := userCacheKey(username)
	var cached []TransferView
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	records, err := s.transfers.FindByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list transfers of user: %w", err)
	}
	views := s.toViews(ctx, records)
	_ = s.cache.SetJSON(ctx, key, views, s.cacheTTL)
	return views, nil
}

// ListCardTransfers returns a card's history. Only the card owner may see it.
func (s *transferService) ListCardTransfers(ctx context.Context, cardID uuid.UUID, username string) ([]TransferView, error) {
	requester, err := s.requester(ctx, username, "card", cardID.String())
	if err != nil {
		return nil, err
	}
	card, err := s.directory.FindByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card.UserID != requester.ID {
		return nil, apperrors.OwnershipDenied(cardID.String())
	}

	key := cardCacheKey(cardID)
	var cached []TransferView
	if s.cache.GetJSON(ctx, key, &cached) {
		return cached, nil
	}

	records, err := s.transfers.FindByCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("list transfers of card %s: %w", cardID, err)
	}
	views := s.toViews(ctx, records)
	_ = s.cache.SetJSON(ctx, key, views, s.cacheTTL)
	return views, nil
}

// GetTransfer returns one transfer if the requester owns either participating card.
func (s *transferService) GetTransfer(ctx context.Context, transferID uuid.UUID, username string) (*TransferView, error) {
	record, err := s.transfers.FindByID(ctx, transferID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.TransferNotFound(transferID.String())
	}
	if err != nil {
		return nil, fmt.Errorf("find transfer %s: %w", transferID, err)
	}

	requester, err := s.requester(ctx, username, "transfer", transferID.String())
	if err != nil {
		return nil, err
	}

	participant := false
	for _, id := range participants(record) {
		card, err := s.cards.FindByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find card %s: %w", id, err)
		}
		if card.UserID == requester.ID {
			participant = true
			break
		}
	}
	if !participant {
		return nil, apperrors.Forbidden("transfer", transferID.String())
	}

	views := s.toViews(ctx, []model.Transfer{*record})
	return &views[0], nil
}

// requester resolves the caller. An unknown caller is treated as unauthorized for the resource.
func (s *transferService) requester(ctx context.Context, username, resource, id string) (*model.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Forbidden(resource, id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *transferService) toViews(ctx context.Context, records []model.Transfer) []TransferView {
	masked := make(map[uuid.UUID]string)
	mask := func(id uuid.UUID) string {
		if m, ok := masked[id]; ok {
			return m
		}
		m := cardcipher.RedactedPlaceholder
		if card, err := s.cards.FindByID(ctx, id); err == nil {
			m = s.cipher.Mask(card.EncryptedNumber)
		}
		masked[id] = m
		return m
	}

	views := make([]TransferView, 0, len(records))
	for _, r := range records {
		v := TransferView{
			ID:                r.ID,
			SourceCardID:      r.SourceCardID,
			SourceCardNumber:  mask(r.SourceCardID),
			DestinationCardID: r.DestinationCardID,
			Amount:            r.Amount,
			Description:       r.Description,
			Status:            r.Outcome,
			CreatedAt:         r.CreatedAt,
		}
		if r.DestinationCardID != nil {
			v.DestinationCardNumber = mask(*r.DestinationCardID)
		}
		views = append(views, v)
	}
	return views
}

// invalidate drops the history views touched by a commit, then drops them again after the
// stale-read window. A reader that loaded pre-commit rows can repopulate a key between the
// two deletes, so cached history may lag a commit by at most the window.
func (s *transferService) invalidate(ctx context.Context, username string, cardIDs ...uuid.UUID) {
	keys := []string{userCacheKey(username)}
	for _, id := range cardIDs {
		keys = append(keys, cardCacheKey(id))
	}
	_ = s.cache.Delete(ctx, keys...)
	time.AfterFunc(s.staleRead, func() {
		_ = s.cache.Delete(context.Background(), keys...)
	})
}

func (s *transferService) notify(user *model.User, view *TransferView) {
	if s.notices == nil || user.Email == "" {
		return
	}
	s.notices.Enqueue(notify.Notice{
		To:              user.Email,
		Username:        user.Username,
		TransferID:      view.ID,
		SourceCard:      view.SourceCardNumber,
		DestinationCard: view.DestinationCardNumber,
		Amount:          view.Amount,
		CreatedAt:       view.CreatedAt,
	})
}

// checkCard verifies ownership before status, so a non-owner never learns a card's status.
func checkCard(card *model.Card, ownerID uuid.UUID) error {
	if card.UserID != ownerID {
		return apperrors.OwnershipDenied(card.ID.String())
	}
	if !card.IsActive() {
		return apperrors.CardNotActive(card.ID.String(), string(card.Status))
	}
	return nil
}

// checkPair runs the destination, distinctness and funds checks.
func checkPair(source, destination *model.Card, ownerID uuid.UUID, amount decimal.Decimal) error {
	if err := checkCard(destination, ownerID); err != nil {
		return err
	}
	if source.ID == destination.ID {
		return apperrors.InvalidTransfer("source and destination must be different cards")
	}
	if source.Balance.LessThan(amount) {
		return apperrors.InsufficientFunds(source.ID.String(), source.Balance, amount)
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.InvalidInput("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperrors.InvalidInput("amount must have at most 2 decimal places")
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return apperrors.InvalidInput("amount is too large")
	}
	return nil
}

func participants(t *model.Transfer) []uuid.UUID {
	ids := []uuid.UUID{t.SourceCardID}
	if t.DestinationCardID != nil {
		ids = append(ids, *t.DestinationCardID)
	}
	return ids
}

func userCacheKey(username string) string {
	return "transfers:user:" + username
}

func cardCacheKey(id uuid.UUID) string {
	return "transfers:card:" + id.String()
}
