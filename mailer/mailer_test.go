package mailer

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/gomail.v2"
)

func TestVerificationMessage(t *testing.T) {
	msg, err := VerificationMessage("https://app.example.com/", "ada@example.com", "tok_en-1")
	if err != nil {
		t.Fatalf("VerificationMessage: %v", err)
	}
	if msg.Subject != "Verify your email" {
		t.Fatalf("subject = %q", msg.Subject)
	}
	if msg.To != "ada@example.com" {
		t.Fatalf("to = %q", msg.To)
	}
	link := "https://app.example.com/verify-email?token=tok_en-1"
	if !strings.Contains(msg.Text, link) {
		t.Fatalf("text missing link: %q", msg.Text)
	}
	if !strings.Contains(msg.HTML, `href="`+link+`"`) {
		t.Fatalf("html missing link: %q", msg.HTML)
	}
	if !strings.Contains(msg.HTML, "expires in 30 minutes") {
		t.Fatalf("html missing expiry notice")
	}
}

func TestVerificationMessageEscapesToken(t *testing.T) {
	msg, err := VerificationMessage("http://localhost:3000", "a@b.io", `"><script>`)
	if err != nil {
		t.Fatalf("VerificationMessage: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("token not escaped: %q", msg.HTML)
	}
}

func TestVerificationMessageRejectsBadInput(t *testing.T) {
	if _, err := VerificationMessage("http://localhost:3000", "a@b.io", " "); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := VerificationMessage("not a url", "a@b.io", "t"); err == nil {
		t.Fatalf("expected error for relative client url")
	}
}

func TestSMTPSenderSetsHeaders(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}

	var sent *gomail.Message
	s.send = func(m *gomail.Message) error {
		sent = m
		return nil
	}

	err = s.Send(context.Background(), Message{
		To:             "ada@example.com",
		Subject:        "hi",
		Text:           "body",
		HTML:           "<p>body</p>",
		IdempotencyKey: "job-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := sent.GetHeader(idempotencyHeader); len(got) != 1 || got[0] != "job-1" {
		t.Fatalf("idempotency header = %v", got)
	}
	if got := sent.GetHeader("From"); len(got) != 1 || got[0] != "noreply@example.com" {
		t.Fatalf("from header = %v", got)
	}
}

func TestSMTPSenderClassifiesRejections(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}

	s.send = func(*gomail.Message) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	if err := s.Send(context.Background(), Message{To: "x@y.z"}); !errors.Is(err, ErrRejected) {
		t.Fatalf("5xx error = %v, want ErrRejected", err)
	}

	s.send = func(*gomail.Message) error {
		return &textproto.Error{Code: 421, Msg: "try later"}
	}
	if err := s.Send(context.Background(), Message{To: "x@y.z"}); err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("4xx error = %v, want transient error", err)
	}
}

func TestSMTPSenderHonorsContext(t *testing.T) {
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", From: "noreply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	s.send = func(*gomail.Message) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Send(ctx, Message{To: "x@y.z"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send = %v, want deadline exceeded", err)
	}
}

func TestNewSMTPSenderValidates(t *testing.T) {
	if _, err := NewSMTPSender(SMTPConfig{From: "a@b.c"}); err == nil {
		t.Fatalf("expected error without host")
	}
	if _, err := NewSMTPSender(SMTPConfig{Host: "h"}); err == nil {
		t.Fatalf("expected error without from")
	}
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSender(zap.New(core))

	if err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "s", IdempotencyKey: "k"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	entries := logs.FilterMessage("simulated email send").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["to"]; got != "ada@example.com" {
		t.Fatalf("logged to = %v", got)
	}
}
