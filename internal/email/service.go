// Package email sends workspace notifications over SMTP.
package email

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"

	"gopkg.in/gomail.v2"
)

// ErrNotConfigured is returned when no SMTP host or sender is set.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service provides email sending
type Service struct {
	config Config
	sender Sender
}

// NewService creates a new email service
func NewService(config Config) *Service {
	d := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	d.TLSConfig = &tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12}
	return &Service{config: config, sender: d}
}

// NewServiceWithSender uses sender instead of dialing SMTP.
func NewServiceWithSender(config Config, sender Sender) *Service {
	return &Service{config: config, sender: sender}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port > 0 && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, plain, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("email has no recipients")
	}

	m := gomail.NewMessage()
	if s.config.FromName != "" {
		m.SetAddressHeader("From", s.config.From, s.config.FromName)
	} else {
		m.SetHeader("From", s.config.From)
	}
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", plain)
	m.AddAlternative("text/html", htmlBody)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// InviteData fills the invitation email.
type InviteData struct {
	AppName       string
	InviteeName   string
	InviterName   string
	WorkspaceName string
	Role          string
	WorkspaceURL  string
}

// SendInviteEmail tells a user they were added to a workspace.
func (s *Service) SendInviteEmail(to string, data InviteData) error {
	if data.AppName == "" {
		data.AppName = "Flux"
	}
	html, err := renderInvite(data)
	if err != nil {
		return fmt.Errorf("render invite template: %w", err)
	}
	subject := fmt.Sprintf("You were added to %s on %s", data.WorkspaceName, data.AppName)
	plain := fmt.Sprintf("%s added you to the workspace %q as %s.\n\nOpen it: %s\n",
		inviterOrSomeone(data.InviterName), data.WorkspaceName, data.Role, data.WorkspaceURL)
	return s.SendHTMLEmail([]string{to}, subject, plain, html)
}

func inviterOrSomeone(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

var inviteTmpl = template.Must(template.New("invite").Funcs(template.FuncMap{
	"inviter": inviterOrSomeone,
}).Parse(inviteEmailTemplate))

func renderInvite(data InviteData) (string, error) {
	var buf bytes.Buffer
	if err := inviteTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const inviteEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were added to {{.WorkspaceName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi{{if .InviteeName}} {{.InviteeName}}{{end}},</p>

    <p>{{inviter .InviterName}} added you to <strong>{{.WorkspaceName}}</strong> as <strong>{{.Role}}</strong>.</p>

    {{if .WorkspaceURL}}<p>
        <a href="{{.WorkspaceURL}}" class="button">Open workspace</a>
    </p>{{end}}

    <div class="footer">
        <p>You received this email because a workspace admin invited your account.</p>
    </div>
</body>
</html>`
