package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"
)

const idempotencyHeader = "X-Idempotency-Key"

// SMTPConfig describes the outgoing SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers messages through an SMTP relay, one connection per
// message.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
	send   func(*gomail.Message) error
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp sender address required")
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	s := &SMTPSender{dialer: d, from: cfg.From}
	s.send = func(m *gomail.Message) error { return d.DialAndSend(m) }
	return s, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.build(m)

	// gomail has no context support; the send keeps running in the
	// background if ctx ends first.
	errc := make(chan error, 1)
	go func() { errc <- s.send(msg) }()

	select {
	case err := <-errc:
		return classify(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SMTPSender) build(m Message) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	if m.IdempotencyKey != "" {
		msg.SetHeader(idempotencyHeader, m.IdempotencyKey)
	}
	if m.Text != "" {
		msg.SetBody("text/plain", m.Text)
		if m.HTML != "" {
			msg.AddAlternative("text/html", m.HTML)
		}
	} else {
		msg.SetBody("text/html", m.HTML)
	}
	return msg
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var tp *textproto.Error
	if errors.As(err, &tp) && tp.Code >= 500 {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return err
}
