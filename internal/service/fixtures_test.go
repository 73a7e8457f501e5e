package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"bankcards/internal/cardcipher"
	"bankcards/internal/model"
	"bankcards/internal/notify"
	"bankcards/internal/repository"
)

const (
	numberA       = "4111111111111111"
	numberB       = "5500005555555559"
	numberC       = "378282246310005"
	numberUnknown = "6011111111111117"
)

type recordingQueue struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (q *recordingQueue) Enqueue(n notify.Notice) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.notices = append(q.notices, n)
	return true
}

func (q *recordingQueue) all() []notify.Notice {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notify.Notice(nil), q.notices...)
}

type fixture struct {
	store     *repository.MemoryStore
	cipher    *cardcipher.Cipher
	directory *CardDirectory
	queue     *recordingQueue
	svc       TransferService
	log       *logrus.Logger
	history   HistoryCache
	staleRead time.Duration

	u1, u2  *model.User
	a, b, c *model.Card
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCipher(t *testing.T) *cardcipher.Cipher {
	t.Helper()
	c, err := cardcipher.New(bytes.Repeat([]byte{0x42}, 32), bytes.Repeat([]byte{0x24}, 32))
	require.NoError(t, err)
	return c
}

// newFixture seeds u1 with cards A (1000.00) and B (500.00), and u2 with card C (250.00).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:  repository.NewMemoryStore(),
		cipher: newTestCipher(t),
		queue:  &recordingQueue{},
		log:    quietLogger(),
	}
	f.directory = NewCardDirectory(f.store.Cards(), f.cipher, f.log)
	f.rebuild(f.store.Cards())

	f.u1 = &model.User{Username: "u1", Email: "u1@example.com"}
	f.u2 = &model.User{Username: "u2"}
	require.NoError(t, f.store.Users().Create(ctx, f.u1))
	require.NoError(t, f.store.Users().Create(ctx, f.u2))

	f.a = f.register(t, f.u1, numberA, "1000.00")
	f.b = f.register(t, f.u1, numberB, "500.00")
	f.c = f.register(t, f.u2, numberC, "250.00")
	return f
}

// rebuild wires the service against cards, which may wrap the store.
func (f *fixture) rebuild(cards repository.CardRepository) {
	f.svc = NewTransferService(TransferDeps{
		Users:     f.store.Users(),
		Cards:     cards,
		Transfers: f.store.Transfers(),
		Directory: f.directory,
		Cipher:    f.cipher,
		Cache:     f.history,
		Notices:   f.queue,
		Log:       f.log,

		StaleReadWindow: f.staleRead,
	})
}

func (f *fixture) register(t *testing.T, owner *model.User, number, balance string) *model.Card {
	t.Helper()
	card, err := f.directory.Register(context.Background(), CardRegistration{
		UserID:     owner.ID,
		Number:     number,
		HolderName: owner.Username,
		ExpiryDate: time.Now().AddDate(3, 0, 0),
		Balance:    decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
	return card
}

func (f *fixture) balance(t *testing.T, card *model.Card) string {
	t.Helper()
	got, err := f.store.Cards().FindByID(context.Background(), card.ID)
	require.NoError(t, err)
	return got.Balance.StringFixed(2)
}

func (f *fixture) setStatus(t *testing.T, card *model.Card, status model.CardStatus) {
	t.Helper()
	ctx := context.Background()
	got, err := f.store.Cards().FindByID(ctx, card.ID)
	require.NoError(t, err)
	got.Status = status
	require.NoError(t, f.directory.Save(ctx, got))
}

func (f *fixture) ledger(t *testing.T, card *model.Card) []model.Transfer {
	t.Helper()
	records, err := f.store.Transfers().FindByCard(context.Background(), card.ID)
	require.NoError(t, err)
	return records
}

// memoryHistory is a map-backed HistoryCache.
type memoryHistory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{entries: make(map[string][]byte)}
}

func (h *memoryHistory) GetJSON(_ context.Context, key string, dst any) bool {
	h.mu.Lock()
	raw, ok := h.entries[key]
	h.mu.Unlock()
	return ok && json.Unmarshal(raw, dst) == nil
}

func (h *memoryHistory) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[key] = raw
	return nil
}

func (h *memoryHistory) Delete(_ context.Context, keys ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		delete(h.entries, k)
	}
	return nil
}

func (h *memoryHistory) has(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.entries[key]
	return ok
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
