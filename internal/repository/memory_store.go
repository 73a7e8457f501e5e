package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bankcards/internal/model"
)

// MemoryStore keeps users, cards and transfers in process memory. Transfers lock the two
// cards with per-card mutexes taken in ascending id order.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]model.User
	cards     map[uuid.UUID]model.Card
	transfers []model.Transfer

	cardLocks sync.Map // map[uuid.UUID]*sync.Mutex
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]model.User),
		cards: make(map[uuid.UUID]model.Card),
		now:   time.Now,
	}
}

// Cards returns the store's CardRepository view.
func (s *MemoryStore) Cards() CardRepository { return memoryCards{s} }

// Transfers returns the store's TransferRepository view.
func (s *MemoryStore) Transfers() TransferRepository { return memoryTransfers{s} }

// Users returns the store's UserRepository view.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

func (s *MemoryStore) cardLock(id uuid.UUID) *sync.Mutex {
	m, _ := s.cardLocks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func (s *MemoryStore) lockCards(ids ...uuid.UUID) func() {
	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		m := s.cardLock(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

type memoryCards struct{ s *MemoryStore }

func (r memoryCards) Create(ctx context.Context, card *model.Card) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	if _, exists := s.cards[card.ID]; exists {
		return fmt.Errorf("card %s already exists", card.ID)
	}
	if _, ok := s.users[card.UserID]; !ok {
		return fmt.Errorf("owner %s of card %s: %w", card.UserID, card.ID, ErrNotFound)
	}
	now := s.now()
	card.CreatedAt, card.UpdatedAt = now, now
	s.cards[card.ID] = *card
	return nil
}

func (r memoryCards) Save(ctx context.Context, card *model.Card) error {
	s := r.s
	unlock := s.lockCards(card.ID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cards[card.ID]; ok {
		card.CreatedAt = existing.CreatedAt
	} else {
		card.CreatedAt = s.now()
	}
	card.UpdatedAt = s.now()
	s.cards[card.ID] = *card
	return nil
}

func (r memoryCards) FindByID(ctx context.Context, id uuid.UUID) (*model.Card, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &card, nil
}

func (r memoryCards) FindByUserID(ctx context.Context, userID uuid.UUID) ([]model.Card, error) {
	return r.collect(func(c *model.Card) bool { return c.UserID == userID }), nil
}

func (r memoryCards) FindByLookupToken(ctx context.Context, token string) ([]model.Card, error) {
	if token == "" {
		return nil, nil
	}
	return r.collect(func(c *model.Card) bool { return c.NumberLookup == token }), nil
}

func (r memoryCards) FindUnindexed(ctx context.Context, batchSize int, fn func(batch []model.Card) bool) error {
	if batchSize <= 0 {
		return errors.New("batch size must be positive")
	}
	pending := r.collect(func(c *model.Card) bool { return c.NumberLookup == "" })
	sort.Slice(pending, func(i, j int) bool {
		return bytes.Compare(pending[i].ID[:], pending[j].ID[:]) < 0
	})

	for start := 0; start < len(pending); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(pending))
		if !fn(pending[start:end]) {
			return nil
		}
	}
	return nil
}

func (r memoryCards) SetLookupToken(ctx context.Context, id uuid.UUID, token string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.cards[id]
	if !ok {
		return ErrNotFound
	}
	card.NumberLookup = token
	s.cards[id] = card
	return nil
}

func (r memoryCards) ApplyTransfer(ctx context.Context, app TransferApplication) (*model.Transfer, error) {
	s := r.s
	unlock := s.lockCards(lockOrder(app.SourceCardID, app.DestinationCardID)...)
	defer unlock()

	// The card locks exclude other balance writers, but not metadata writers such as
	// SetLookupToken, so the write below touches only the balance columns.
	s.mu.RLock()
	source, srcOK := s.cards[app.SourceCardID]
	destination, dstOK := s.cards[app.DestinationCardID]
	s.mu.RUnlock()
	if !srcOK {
		return nil, fmt.Errorf("lock card %s: %w", app.SourceCardID, ErrNotFound)
	}
	if !dstOK {
		return nil, fmt.Errorf("lock card %s: %w", app.DestinationCardID, ErrNotFound)
	}

	if app.Verify != nil {
		if err := app.Verify(&source, &destination); err != nil {
			return nil, err
		}
	}
	if source.ID == destination.ID {
		return nil, errors.New("source and destination are the same card")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	destinationID := destination.ID
	record := model.Transfer{
		ID:                uuid.New(),
		SourceCardID:      source.ID,
		DestinationCardID: &destinationID,
		Amount:            app.Amount,
		Description:       app.Description,
		Outcome:           model.TransferOutcomeSuccess,
		CreatedAt:         now,
	}

	s.mu.Lock()
	s.moveBalance(source.ID, app.Amount.Neg(), now)
	s.moveBalance(destination.ID, app.Amount, now)
	s.transfers = append(s.transfers, record)
	s.mu.Unlock()

	return &record, nil
}

// moveBalance adds delta to the stored card. Callers hold s.mu and the card lock.
func (s *MemoryStore) moveBalance(id uuid.UUID, delta decimal.Decimal, now time.Time) {
	card := s.cards[id]
	card.Balance = card.Balance.Add(delta)
	card.UpdatedAt = now
	s.cards[id] = card
}

func (r memoryCards) collect(keep func(c *model.Card) bool) []model.Card {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Card
	for _, c := range s.cards {
		if keep(&c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memoryTransfers struct{ s *MemoryStore }

func (r memoryTransfers) Append(ctx context.Context, transfer *model.Transfer) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = s.now()
	}
	s.transfers = append(s.transfers, *transfer)
	return nil
}

func (r memoryTransfers) FindByID(ctx context.Context, id uuid.UUID) (*model.Transfer, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.transfers {
		if s.transfers[i].ID == id {
			t := s.transfers[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryTransfers) FindByUser(ctx context.Context, username string) ([]model.Transfer, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owner *model.User
	for _, u := range s.users {
		if u.Username == username {
			owner = &u
			break
		}
	}
	if owner == nil {
		return nil, nil
	}
	owned := make(map[uuid.UUID]bool)
	for id, c := range s.cards {
		if c.UserID == owner.ID {
			owned[id] = true
		}
	}
	return s.newestFirst(func(t *model.Transfer) bool {
		return owned[t.SourceCardID] || (t.DestinationCardID != nil && owned[*t.DestinationCardID])
	}), nil
}

func (r memoryTransfers) FindByCard(ctx context.Context, cardID uuid.UUID) ([]model.Transfer, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(func(t *model.Transfer) bool { return t.Involves(cardID) }), nil
}

// newestFirst walks the append log backwards. Callers hold s.mu.
func (s *MemoryStore) newestFirst(keep func(t *model.Transfer) bool) []model.Transfer {
	var out []model.Transfer
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if keep(&s.transfers[i]) {
			out = append(out, s.transfers[i])
		}
	}
	return out
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(ctx context.Context, user *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return fmt.Errorf("username %q already taken", user.Username)
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (r memoryUsers) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	s := r.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}
