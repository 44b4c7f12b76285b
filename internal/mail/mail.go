// Package mail renders and delivers transactional email.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"log/slog"
	"sync"
	texttmpl "text/template"

	"github.com/faexperts/fawizard/internal/config"
)

//go:embed templates
var templateFS embed.FS

var (
	textTemplates = texttmpl.Must(texttmpl.ParseFS(templateFS, "templates/*.txt"))
	htmlTemplates = htmltmpl.Must(htmltmpl.ParseFS(templateFS, "templates/*.gohtml"))
)

// Address is a mailbox with an optional display name.
type Address struct {
	Name  string
	Email string
}

// Message is a rendered email.
type Message struct {
	To      Address
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Render fills the named template pair ("<name>.txt" and "<name>.gohtml") with data.
func Render(name string, data any) (text, html string, err error) {
	var tb, hb bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&tb, name+".txt", data); err != nil {
		return "", "", fmt.Errorf("render %s.txt: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&hb, name+".gohtml", data); err != nil {
		return "", "", fmt.Errorf("render %s.gohtml: %w", name, err)
	}
	return tb.String(), hb.String(), nil
}

// MagicLinkData is the template data of the sign-in email.
type MagicLinkData struct {
	AppName      string
	Link         string
	ExpiresIn    string
	SupportEmail string
}

// MagicLink builds the sign-in email for one recipient.
func MagicLink(to Address, data MagicLinkData) (Message, error) {
	text, html, err := Render("magic_link", data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Sign in to " + data.AppName,
		Text:    text,
		HTML:    html,
	}, nil
}

// LogMailer writes messages to the log instead of sending them. It keeps the
// most recent messages for inspection.
type LogMailer struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "mail")}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email", "to", msg.To.Email, "subject", msg.Subject, "body", msg.Text)
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	if len(m.sent) > 100 {
		m.sent = m.sent[len(m.sent)-100:]
	}
	m.mu.Unlock()
	return nil
}

// Sent returns a copy of the retained messages, oldest first.
func (m *LogMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// New creates the mailer selected by cfg.Provider.
func New(cfg config.MailConfig, logger *slog.Logger) (Mailer, error) {
	switch cfg.Provider {
	case "sendgrid":
		return NewSendGrid(cfg.SendgridAPIKey, Address{Name: cfg.FromName, Email: cfg.FromAddress}), nil
	case "log", "":
		return NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %q", cfg.Provider)
	}
}
