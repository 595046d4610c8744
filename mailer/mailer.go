// Package mailer renders and delivers transactional email.
package mailer

import (
	"context"
	"errors"
)

// ErrRejected marks a delivery the provider refused outright, such as an
// SMTP 5xx reply. Retrying the same message will not help.
var ErrRejected = errors.New("message rejected by provider")

// Message is one rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	// IdempotencyKey lets a provider drop a resend of the same message.
	// Providers are not required to honor it.
	IdempotencyKey string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}
