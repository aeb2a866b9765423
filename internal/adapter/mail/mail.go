// Package mail renders notification templates into messages and hands them
// to a transport.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type layout struct {
	subject  string
	body     *template.Template
	required []string
}

// Renderer turns a notification kind and its variables into a Message.
type Renderer struct {
	layouts map[domain.NotificationKind]layout
}

// NewRenderer returns a renderer with the built-in templates.
func NewRenderer() *Renderer {
	return &Renderer{layouts: map[domain.NotificationKind]layout{
		domain.KindCredentialsIssued: {
			subject:  "Vendor account approved: your login details",
			body:     template.Must(template.New(string(domain.KindCredentialsIssued)).Parse(credentialsIssuedBody)),
			required: []string{domain.VarUsername, domain.VarPassword},
		},
		domain.KindAccountActive: {
			subject:  "Vendor account activated",
			body:     template.Must(template.New(string(domain.KindAccountActive)).Parse(accountActiveBody)),
			required: []string{domain.VarUsername},
		},
	}}
}

// Render builds the message for kind. Missing required variables are an error.
func (r *Renderer) Render(kind domain.NotificationKind, to string, vars map[string]string) (Message, error) {
	l, ok := r.layouts[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	for _, key := range l.required {
		if vars[key] == "" {
			return Message{}, fmt.Errorf("%s notification: missing variable %q", kind, key)
		}
	}

	var body strings.Builder
	if err := l.body.Execute(&body, vars); err != nil {
		return Message{}, fmt.Errorf("rendering %s notification: %w", kind, err)
	}

	return Message{To: to, Subject: l.subject, Body: body.String()}, nil
}

const credentialsIssuedBody = `Hello{{with .name}} {{.}}{{end}},

Your vendor application has been approved.

Username: {{.username}}
Password: {{.password}}
{{if .details_url}}
To finish onboarding, submit your business details here:
{{.details_url}}
{{else if .token}}
To finish onboarding, submit your business details with this access code:
{{.token}}
{{end}}
This link can be used once. Your account becomes active after a final review.
`

const accountActiveBody = `Hello{{with .name}} {{.}}{{end}},

Your vendor account is now active. You can log in and start using your dashboard.

Username: {{.username}}
{{- with .password}}
Password: {{.}}
{{- end}}
`

// LogSender is a development transport that records each message in the log
// instead of delivering it. Bodies carry credentials and are never logged.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "email delivered",
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.Body),
	)
	return nil
}
