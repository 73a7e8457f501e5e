package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankcards/internal/model"
)

func seedStore(t *testing.T) (*MemoryStore, *model.User, *model.Card, *model.Card) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()

	user := &model.User{Username: "u1"}
	require.NoError(t, store.Users().Create(ctx, user))

	a := &model.Card{UserID: user.ID, EncryptedNumber: "enc-a", Status: model.CardStatusActive, Balance: decimal.RequireFromString("1000.00")}
	b := &model.Card{UserID: user.ID, EncryptedNumber: "enc-b", Status: model.CardStatusActive, Balance: decimal.RequireFromString("500.00")}
	require.NoError(t, store.Cards().Create(ctx, a))
	require.NoError(t, store.Cards().Create(ctx, b))
	return store, user, a, b
}

func TestLockOrder(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{low, high}, lockOrder(low, high))
	assert.Equal(t, []uuid.UUID{low, high}, lockOrder(high, low))
	assert.Equal(t, []uuid.UUID{low}, lockOrder(low, low))
}

func TestMemoryUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	u := &model.User{Username: "alice"}
	require.NoError(t, store.Users().Create(ctx, u))
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.Error(t, store.Users().Create(ctx, &model.User{Username: "alice"}))

	found, err := store.Users().FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = store.Users().FindByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCards_CreateRequiresOwner(t *testing.T) {
	store := NewMemoryStore()
	err := store.Cards().Create(context.Background(), &model.Card{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCards_FindByIDReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, _, a, _ := seedStore(t)

	got, err := store.Cards().FindByID(ctx, a.ID)
	require.NoError(t, err)
	got.Balance = decimal.Zero

	again, err := store.Cards().FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(decimal.RequireFromString("1000")))
}

func TestMemoryCards_LookupIndex(t *testing.T) {
	ctx := context.Background()
	store, user, a, b := seedStore(t)

	found, err := store.Cards().FindByLookupToken(ctx, "tok-a")
	require.NoError(t, err)
	assert.Empty(t, found)

	var batches [][]model.Card
	require.NoError(t, store.Cards().FindUnindexed(ctx, 1, func(batch []model.Card) bool {
		batches = append(batches, batch)
		return true
	}))
	assert.Len(t, batches, 2)

	require.NoError(t, store.Cards().SetLookupToken(ctx, a.ID, "tok-a"))
	assert.ErrorIs(t, store.Cards().SetLookupToken(ctx, uuid.New(), "x"), ErrNotFound)

	found, err = store.Cards().FindByLookupToken(ctx, "tok-a")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	var pending []uuid.UUID
	require.NoError(t, store.Cards().FindUnindexed(ctx, 10, func(batch []model.Card) bool {
		for _, c := range batch {
			pending = append(pending, c.ID)
		}
		return true
	}))
	assert.Equal(t, []uuid.UUID{b.ID}, pending)

	owned, err := store.Cards().FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)
}

func TestMemoryCards_FindUnindexedStops(t *testing.T) {
	ctx := context.Background()
	store, _, _, _ := seedStore(t)

	calls := 0
	require.NoError(t, store.Cards().FindUnindexed(ctx, 1, func(batch []model.Card) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)
	assert.Error(t, store.Cards().FindUnindexed(ctx, 0, func([]model.Card) bool { return true }))
}

func TestMemoryCards_ApplyTransfer(t *testing.T) {
	ctx := context.Background()
	store, user, a, b := seedStore(t)

	rec, err := store.Cards().ApplyTransfer(ctx, TransferApplication{
		SourceCardID:      a.ID,
		DestinationCardID: b.ID,
		Amount:            decimal.RequireFromString("100.00"),
		Description:       "rent",
		Verify: func(src, dst *model.Card) error {
			assert.Equal(t, a.ID, src.ID)
			assert.Equal(t, b.ID, dst.ID)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TransferOutcomeSuccess, rec.Outcome)
	assert.Equal(t, b.ID, *rec.DestinationCardID)

	src, _ := store.Cards().FindByID(ctx, a.ID)
	dst, _ := store.Cards().FindByID(ctx, b.ID)
	assert.Equal(t, "900.00", src.Balance.StringFixed(2))
	assert.Equal(t, "600.00", dst.Balance.StringFixed(2))

	history, err := store.Transfers().FindByUser(ctx, user.Username)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)
}

func TestMemoryCards_ApplyTransferVerifyAborts(t *testing.T) {
	ctx := context.Background()
	store, user, a, b := seedStore(t)
	rejected := errors.New("rejected")

	_, err := store.Cards().ApplyTransfer(ctx, TransferApplication{
		SourceCardID:      a.ID,
		DestinationCardID: b.ID,
		Amount:            decimal.NewFromInt(1),
		Verify:            func(_, _ *model.Card) error { return rejected },
	})
	assert.ErrorIs(t, err, rejected)

	_, err = store.Cards().ApplyTransfer(ctx, TransferApplication{SourceCardID: a.ID, DestinationCardID: a.ID, Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)

	_, err = store.Cards().ApplyTransfer(ctx, TransferApplication{SourceCardID: a.ID, DestinationCardID: uuid.New(), Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)

	src, _ := store.Cards().FindByID(ctx, a.ID)
	assert.Equal(t, "1000.00", src.Balance.StringFixed(2))
	history, _ := store.Transfers().FindByUser(ctx, user.Username)
	assert.Empty(t, history)
}

func TestMemoryCards_ApplyTransferKeepsConcurrentLookupToken(t *testing.T) {
	ctx := context.Background()
	store, _, a, b := seedStore(t)

	_, err := store.Cards().ApplyTransfer(ctx, TransferApplication{
		SourceCardID:      a.ID,
		DestinationCardID: b.ID,
		Amount:            decimal.NewFromInt(100),
		Verify: func(_, _ *model.Card) error {
			// the backfill only takes the store mutex, so it may land mid-transfer
			return store.Cards().SetLookupToken(ctx, b.ID, "token-b")
		},
	})
	require.NoError(t, err)

	dst, err := store.Cards().FindByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-b", dst.NumberLookup)
	assert.Equal(t, "600.00", dst.Balance.StringFixed(2))
}

func TestMemoryCards_ApplyTransferConcurrent(t *testing.T) {
	ctx := context.Background()
	store, _, a, b := seedStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := store.Cards().ApplyTransfer(ctx, TransferApplication{SourceCardID: a.ID, DestinationCardID: b.ID, Amount: decimal.NewFromInt(3)})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := store.Cards().ApplyTransfer(ctx, TransferApplication{SourceCardID: b.ID, DestinationCardID: a.ID, Amount: decimal.NewFromInt(1)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	src, _ := store.Cards().FindByID(ctx, a.ID)
	dst, _ := store.Cards().FindByID(ctx, b.ID)
	assert.Equal(t, "900.00", src.Balance.StringFixed(2))
	assert.Equal(t, "600.00", dst.Balance.StringFixed(2))
}

func TestMemoryTransfers_Ordering(t *testing.T) {
	ctx := context.Background()
	store, user, a, b := seedStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &model.Transfer{SourceCardID: a.ID, DestinationCardID: &b.ID, Amount: decimal.NewFromInt(1), Outcome: model.TransferOutcomeSuccess, CreatedAt: base}
	second := &model.Transfer{SourceCardID: b.ID, Amount: decimal.NewFromInt(2), Outcome: model.TransferOutcomeFailed, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, store.Transfers().Append(ctx, first))
	require.NoError(t, store.Transfers().Append(ctx, second))

	byCard, err := store.Transfers().FindByCard(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, byCard, 2)
	assert.Equal(t, second.ID, byCard[0].ID)
	assert.Equal(t, first.ID, byCard[1].ID)

	byCard, err = store.Transfers().FindByCard(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, byCard, 1)

	byUser, err := store.Transfers().FindByUser(ctx, user.Username)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	none, err := store.Transfers().FindByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)

	got, err := store.Transfers().FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	_, err = store.Transfers().FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
