// Package email sends account and curation notices over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// ErrNotConfigured is returned when SMTP settings are missing.
var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// BaseURL prefixes the links placed in messages.
	BaseURL string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service renders and sends messages.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// WithSender replaces the SMTP transport.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

// SendHTMLEmail sends a multipart message with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, plain, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("send email: no recipients")
	}

	boundary := "curio-alt"
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, plain)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, to, msg.Bytes()); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// Message is the data every template receives.
type Message struct {
	AppName  string
	UserName string
	URL      string
	// Title and Excerpt are used by the publish notice.
	Title   string
	Excerpt string
}

func (s *Service) link(path string) string {
	return strings.TrimRight(s.config.BaseURL, "/") + path
}

// SendVerificationEmail sends the address confirmation link.
func (s *Service) SendVerificationEmail(to, userName, token string) error {
	data := Message{AppName: "Curio", UserName: userName, URL: s.link("/verify?token=" + token)}
	html, err := render(verificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render verification template: %w", err)
	}
	plain := fmt.Sprintf("Hi %s, confirm your Curio account: %s", userName, data.URL)
	return s.SendHTMLEmail([]string{to}, "Confirm your Curio account", plain, html)
}

// SendPasswordResetEmail sends the reset link.
func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	data := Message{AppName: "Curio", UserName: userName, URL: s.link("/reset-password?token=" + token)}
	html, err := render(passwordResetTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	plain := fmt.Sprintf("Hi %s, reset your Curio password within the hour: %s", userName, data.URL)
	return s.SendHTMLEmail([]string{to}, "Reset your Curio password", plain, html)
}

// SendPublishedEmail tells a curator their board was published.
func (s *Service) SendPublishedEmail(to, userName, boardID, title, excerpt string) error {
	data := Message{
		AppName:  "Curio",
		UserName: userName,
		URL:      s.link("/boards/" + boardID),
		Title:    title,
		Excerpt:  excerpt,
	}
	html, err := render(publishedTemplate, data)
	if err != nil {
		return fmt.Errorf("render published template: %w", err)
	}
	plain := fmt.Sprintf("%s was published: %s", title, data.URL)
	return s.SendHTMLEmail([]string{to}, "Published: "+title, plain, html)
}

var (
	verificationTemplate  = template.Must(template.New("verify").Parse(layout(verifyBody)))
	passwordResetTemplate = template.Must(template.New("reset").Parse(layout(resetBody)))
	publishedTemplate     = template.Must(template.New("published").Parse(layout(publishedBody)))
)

func render(t *template.Template, data Message) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func layout(body string) string {
	return `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, 'Segoe UI', sans-serif; line-height: 1.6; color: #1f2937; max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background: #4f46e5; color: white; text-decoration: none; border-radius: 6px; }
        .muted { font-size: 12px; color: #6b7280; }
        blockquote { border-left: 3px solid #c7d2fe; margin: 16px 0; padding-left: 12px; color: #374151; }
    </style>
</head>
<body>
    <h1>{{.AppName}}</h1>
` + body + `
</body>
</html>`
}

const verifyBody = `    <p>Hi {{.UserName}}, confirm your address to start curating.</p>
    <p><a href="{{.URL}}" class="button">Confirm email</a></p>
    <p class="muted">{{.URL}}<br>The link expires in 24 hours.</p>`

const resetBody = `    <p>Hi {{.UserName}}, someone asked to reset your password.</p>
    <p><a href="{{.URL}}" class="button">Choose a new password</a></p>
    <p class="muted">{{.URL}}<br>The link expires in 1 hour. Ignore this message if it was not you.</p>`

const publishedBody = `    <p>Hi {{.UserName}}, <strong>{{.Title}}</strong> is live.</p>
    <blockquote>{{.Excerpt}}</blockquote>
    <p><a href="{{.URL}}" class="button">Open board</a></p>`
