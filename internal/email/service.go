// Package email sends notification mail via SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
	}
}

// IsConfigured returns true when enough SMTP settings are present to send.
// Callers treat an unconfigured service as "notifications disabled".
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) Send(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendInviteNotification tells the receiver someone wants to share a list
// with them. Failures are the caller's problem to log, never to surface.
func (s *Service) SendInviteNotification(to, senderName, listName string) error {
	subject := fmt.Sprintf("%s shared a list with you", senderName)
	body := fmt.Sprintf(
		"%s invited you to collaborate on the list %q.\n\n"+
			"Sign in to RememberAll to accept or decline the invite.\n",
		senderName, listName,
	)
	return s.Send([]string{to}, subject, body)
}
