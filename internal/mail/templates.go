// Package mail renders and delivers transactional email: account verification,
// password reset, contact form forwarding and API key expiry warnings.
//
// Delivery is layered. With a queue token configured, messages are published to an
// HTTP queue that calls back into /api/jobs/send-email; otherwise they are sent
// through SMTP, and without SMTP they are only logged.
package mail

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

// Message types accepted by the send-email job
const (
	TypeVerification  = "verification"
	TypeResetPassword = "reset-password"
	TypeContact       = "contact"
	TypeKeyExpiry     = "key-expiry"
)

// Message is a mail job. Only the fields relevant to Type are populated.
type Message struct {
	Type      string     `json:"type"`
	To        string     `json:"to"`
	URL       string     `json:"url,omitempty"`
	Token     string     `json:"token,omitempty"`
	Name      string     `json:"name,omitempty"`
	Subject   string     `json:"subject,omitempty"`
	Message   string     `json:"message,omitempty"`
	ReplyTo   string     `json:"replyTo,omitempty"`
	KeyName   string     `json:"keyName,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Rendered is a message ready for a transport
type Rendered struct {
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

type template struct {
	subject string
	html    *fasttemplate.Template
	text    *fasttemplate.Template
}

func newTemplate(subject, htmlBody, textBody string) template {
	return template{
		subject: subject,
		html:    fasttemplate.New(htmlBody, "{{", "}}"),
		text:    fasttemplate.New(textBody, "{{", "}}"),
	}
}

var templates = map[string]template{
	TypeVerification: newTemplate(
		"Verify your email address",
		`<p>Hi {{name}},</p>
<p>Confirm your email address to start creating API keys.</p>
<p><a href="{{url}}">Verify email</a></p>
<p>The link expires in 24 hours. If you did not sign up, ignore this email.</p>`,
		`Hi {{name}},

Confirm your email address to start creating API keys:
{{url}}

The link expires in 24 hours. If you did not sign up, ignore this email.
`),
	TypeResetPassword: newTemplate(
		"Reset your password",
		`<p>Hi {{name}},</p>
<p>We received a request to reset your password.</p>
<p><a href="{{url}}">Choose a new password</a></p>
<p>The link expires in 1 hour. If you did not ask for this, ignore this email.</p>`,
		`Hi {{name}},

We received a request to reset your password:
{{url}}

The link expires in 1 hour. If you did not ask for this, ignore this email.
`),
	TypeContact: newTemplate(
		"[Contact] {{subject}}",
		`<p><strong>From:</strong> {{name}} &lt;{{replyTo}}&gt;</p>
<p><strong>Category:</strong> {{subject}}</p>
<pre>{{message}}</pre>`,
		`From: {{name}} <{{replyTo}}>
Category: {{subject}}

{{message}}
`),
	TypeKeyExpiry: newTemplate(
		"Your API key \"{{keyName}}\" expires soon",
		`<p>Hi {{name}},</p>
<p>Your API key <strong>{{keyName}}</strong> expires on {{expiresAt}}.</p>
<p>Create a replacement in the <a href="{{url}}">dashboard</a> before then to avoid failed requests.</p>`,
		`Hi {{name}},

Your API key "{{keyName}}" expires on {{expiresAt}}.
Create a replacement in the dashboard before then to avoid failed requests:
{{url}}
`),
}

// ValidType reports whether t names a known template
func ValidType(t string) bool {
	_, ok := templates[t]
	return ok
}

// Render fills the template for msg.Type. HTML values are escaped; the plain-text
// part receives them verbatim.
func Render(msg *Message) (*Rendered, error) {
	tpl, ok := templates[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown email type %q", msg.Type)
	}
	if strings.TrimSpace(msg.To) == "" {
		return nil, fmt.Errorf("email recipient is required")
	}

	raw := msg.values()
	escaped := make(map[string]interface{}, len(raw))
	plain := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		escaped[k] = html.EscapeString(v)
		plain[k] = v
	}

	subject := fasttemplate.New(tpl.subject, "{{", "}}").ExecuteString(plain)
	return &Rendered{
		To:      msg.To,
		ReplyTo: msg.ReplyTo,
		Subject: strings.ReplaceAll(subject, "\n", " "),
		HTML:    tpl.html.ExecuteString(escaped),
		Text:    tpl.text.ExecuteString(plain),
	}, nil
}

func (m *Message) values() map[string]string {
	name := m.Name
	if name == "" {
		name = "there"
	}
	expires := ""
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC().Format("January 2, 2006")
	}
	return map[string]string{
		"name":      name,
		"url":       m.URL,
		"token":     m.Token,
		"subject":   m.Subject,
		"message":   m.Message,
		"replyTo":   m.ReplyTo,
		"keyName":   m.KeyName,
		"expiresAt": expires,
	}
}
