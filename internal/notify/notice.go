// Package notify delivers transfer receipts outside the request path.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notice is a transfer receipt. Card numbers are already masked.
type Notice struct {
	To              string
	Username        string
	TransferID      uuid.UUID
	SourceCard      string
	DestinationCard string
	Amount          decimal.Decimal
	CreatedAt       time.Time
}

// Subject returns the receipt subject line.
func (n Notice) Subject() string {
	return "Transfer Receipt"
}

// Body returns the plain-text receipt.
func (n Notice) Body() string {
	return fmt.Sprintf(
		"Dear %s,\n\n"+
			"%s has been transferred from card %s to card %s.\n"+
			"Transfer ID: %s\n"+
			"Transfer time: %s\n"+
			"\nBest regards,\nBank Cards",
		n.Username,
		n.Amount.StringFixed(2), n.SourceCard, n.DestinationCard,
		n.TransferID, n.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
	)
}

// Notifier delivers a single notice.
type Notifier interface {
	Send(ctx context.Context, n Notice) error
}

// Noop discards notices. It is used when SMTP is not configured.
type Noop struct{}

func (Noop) Send(context.Context, Notice) error { return nil }
