// Package email sends the intake receipt to anonymous visitors over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strconv"
	"time"
)

type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// Sender delivers plain-text mail. A zero Host disables it.
type Sender struct {
	cfg  Config
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now  func() time.Time
}

func NewSender(cfg Config) *Sender {
	return &Sender{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

func (s *Sender) Enabled() bool {
	return s.cfg.Host != ""
}

// SendIntakeReceipt tells the visitor their request was received and under which reference.
func (s *Sender) SendIntakeReceipt(ctx context.Context, to, name, sessionID, issue string) error {
	if !s.Enabled() {
		return nil
	}
	body := fmt.Sprintf("Hello %s,\n\nWe received your support request about %q.\n"+
		"Reference: %s\n\nAn agent will reply in the chat window shortly.\n", name, issue, sessionID)
	return s.deliver(ctx, to, "We received your support request", body)
}

func (s *Sender) deliver(ctx context.Context, to, subject, body string) error {
	from := s.cfg.FromEmail
	if from == "" {
		from = s.cfg.Username
	}
	var buf bytes.Buffer
	buf.WriteString("From: " + mime.QEncoding.Encode("utf-8", s.cfg.FromName) + " <" + from + ">\r\n")
	buf.WriteString("To: " + to + "\r\n")
	buf.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	buf.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(body)

	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	done := make(chan error, 1)
	go func() { done <- s.send(addr, auth, from, []string{to}, buf.Bytes()) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
