package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bankcards/internal/model"
	"bankcards/internal/repository"
)

// IndexResult summarizes one backfill run.
type IndexResult struct {
	Indexed int
	Skipped int
}

// LookupIndexer backfills lookup tokens for cards stored before the index existed.
type LookupIndexer struct {
	cards     repository.CardRepository
	cipher    CardCipher
	log       *logrus.Logger
	batchSize int

	running sync.Mutex
	cron    *cron.Cron
}

// NewLookupIndexer creates an indexer.
func NewLookupIndexer(cards repository.CardRepository, cipher CardCipher, log *logrus.Logger) *LookupIndexer {
	return &LookupIndexer{cards: cards, cipher: cipher, log: log, batchSize: defaultScanBatch}
}

// Run indexes every unindexed card once. Rows that fail to decrypt are logged and left
// unindexed. Overlapping runs are skipped.
func (i *LookupIndexer) Run(ctx context.Context) (IndexResult, error) {
	var res IndexResult
	if !i.running.TryLock() {
		i.log.Debug("lookup index backfill already running")
		return res, nil
	}
	defer i.running.Unlock()

	var firstErr error
	err := i.cards.FindUnindexed(ctx, i.batchSize, func(batch []model.Card) bool {
		for _, card := range batch {
			number, err := i.cipher.Decrypt(card.EncryptedNumber)
			if err != nil {
				i.log.WithField("card_id", card.ID).Warn("skipping card with undecryptable number")
				res.Skipped++
				continue
			}
			token, err := i.cipher.LookupToken(number)
			if err != nil {
				i.log.WithField("card_id", card.ID).Warn("skipping card with invalid stored number")
				res.Skipped++
				continue
			}
			if err := i.cards.SetLookupToken(ctx, card.ID, token); err != nil {
				firstErr = fmt.Errorf("set lookup token for card %s: %w", card.ID, err)
				return false
			}
			res.Indexed++
		}
		return ctx.Err() == nil
	})
	if err == nil {
		err = firstErr
	}
	if err == nil {
		err = ctx.Err()
	}

	entry := i.log.WithFields(logrus.Fields{"indexed": res.Indexed, "skipped": res.Skipped})
	if err != nil {
		entry.WithError(err).Error("lookup index backfill failed")
		return res, err
	}
	if res.Indexed > 0 || res.Skipped > 0 {
		entry.Info("lookup index backfill finished")
	}
	return res, nil
}

// Start schedules Run on a cron spec such as "@every 10m".
func (i *LookupIndexer) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _, _ = i.Run(context.Background()) }); err != nil {
		return fmt.Errorf("schedule lookup index backfill: %w", err)
	}
	i.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and returns a context done when a running job finishes.
func (i *LookupIndexer) Stop() context.Context {
	if i.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return i.cron.Stop()
}
