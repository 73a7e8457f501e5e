package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const sendTimeout = 30 * time.Second

// Dispatcher queues notices on a buffered channel drained by a single worker.
type Dispatcher struct {
	notifier Notifier
	log      *logrus.Logger
	queue    chan Notice
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the worker. size is the queue capacity.
func NewDispatcher(notifier Notifier, size int, log *logrus.Logger) *Dispatcher {
	if size <= 0 {
		size = 100
	}
	d := &Dispatcher{
		notifier: notifier,
		log:      log,
		queue:    make(chan Notice, size),
		done:     make(chan struct{}),
	}
	go d.worker()
	return d
}

// Enqueue never blocks. It reports false when the notice was dropped.
func (d *Dispatcher) Enqueue(n Notice) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.log.WithField("transfer_id", n.TransferID).Warn("notification queue full, dropping receipt")
		return false
	}
}

// Close stops accepting notices and waits for queued ones to be sent, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := d.notifier.Send(ctx, n); err != nil {
			d.log.WithError(err).WithField("transfer_id", n.TransferID).Warn("failed to deliver transfer receipt")
		}
		cancel()
	}
}
