package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"athenaeum.org/internal/obs"
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender delivers through a plain SMTP relay.
type SMTPSender struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	// net/smtp carries no context; honor cancellation before dialing.
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	if err := smtp.SendMail(s.Addr, s.Auth, s.From, []string{msg.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender records deliveries through the shared logger instead of
// sending them. Used outside production.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	obs.Log(map[string]any{
		"level":   "info",
		"msg":     "mail_logged",
		"to":      msg.To,
		"subject": msg.Subject,
	})
	return nil
}
