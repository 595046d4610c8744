package mailer

import (
	"bytes"
	"errors"
	"html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
)

const verificationSubject = "Verify your email"

var verificationHTML = template.Must(template.New("verify.html").Parse(
	`<p>Please verify your email by clicking the link below:</p><br>` +
		`<a href="{{.Link}}">{{.Link}}</a><br>` +
		`<p>This link expires in 30 minutes.</p>`,
))

var verificationText = texttemplate.Must(texttemplate.New("verify.txt").Parse(
	"Please verify your email by clicking the link: {{.Link}}\n\nThis link expires in 30 minutes.\n",
))

// VerificationMessage renders the email carrying the verification link
// {clientURL}/verify-email?token=...
func VerificationMessage(clientURL, to, token string) (Message, error) {
	if strings.TrimSpace(token) == "" {
		return Message{}, errors.New("verification token required")
	}
	base, err := url.Parse(strings.TrimRight(clientURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return Message{}, errors.New("invalid client url")
	}
	link := base.JoinPath("verify-email")
	link.RawQuery = url.Values{"token": {token}}.Encode()

	data := struct{ Link string }{Link: link.String()}

	var html, text bytes.Buffer
	if err := verificationHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}
	if err := verificationText.Execute(&text, data); err != nil {
		return Message{}, err
	}

	return Message{
		To:      to,
		Subject: verificationSubject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
