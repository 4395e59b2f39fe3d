package mailer

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"taskflow/internal/pkg/logger"
	"taskflow/internal/platform/config"
)

// Message is one outbound HTML email. Reason tags the message in logs
// ("invite", "reset", ...).
type Message struct {
	To      string
	Subject string
	HTML    string
	Reason  string
}

// Notifier delivers email. Failures are returned to the caller, who decides
// whether they matter; they never undo committed work.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New picks the notifier for the configured provider.
func New(cfg config.EmailConfig) Notifier {
	if cfg.Provider == "smtp" && cfg.SMTP.Host != "" {
		return NewSMTPNotifier(cfg.SMTP)
	}
	log.Warn().Str("provider", cfg.Provider).Msg("SMTP not configured, emails will be logged only")
	return LogNotifier{}
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg  config.SMTPConfig
	send sendFunc
}

func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	l := logger.FromContext(ctx)
	l.Info().Str("to", msg.To).Str("reason", reasonOf(msg)).Msg("sending email")

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	if err := n.send(addr, auth, n.cfg.FromAddress, []string{msg.To}, n.compose(msg)); err != nil {
		l.Warn().Err(err).Str("to", msg.To).Str("reason", reasonOf(msg)).Msg("email delivery failed")
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) compose(msg Message) []byte {
	from := n.cfg.FromAddress
	if n.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", n.cfg.FromName, n.cfg.FromAddress)
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}

// LogNotifier records the envelope and drops the body. Used when no SMTP
// server is configured.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, msg Message) error {
	logger.FromContext(ctx).Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("reason", reasonOf(msg)).
		Msg("email not sent (log provider)")
	return nil
}

func reasonOf(msg Message) string {
	if msg.Reason != "" {
		return msg.Reason
	}
	return msg.Subject
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
