package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"github.com/jordan-wright/email"
)

// Mailer sends notices over SMTP.
type Mailer struct {
	addr string
	auth smtp.Auth
	from string
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

// NewMailer builds a mailer. Authentication is skipped when username is empty.
func NewMailer(host string, port int, username, password, from string) *Mailer {
	var auth smtp.Auth
	if username != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &Mailer{
		addr: host + ":" + strconv.Itoa(port),
		auth: auth,
		from: from,
		send: func(e *email.Email, addr string, auth smtp.Auth) error { return e.Send(addr, auth) },
	}
}

func (m *Mailer) Send(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.To == "" {
		return fmt.Errorf("notice %s has no recipient", n.TransferID)
	}

	e := email.NewEmail()
	e.From = m.from
	e.To = []string{n.To}
	e.Subject = n.Subject()
	e.Text = []byte(n.Body())

	if err := m.send(e, m.addr, m.auth); err != nil {
		return fmt.Errorf("send transfer receipt: %w", err)
	}
	return nil
}
