package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"text/template"
	"time"
)

// Kind names the notification a message carries. It travels in the KindHeader.
type Kind string

const (
	KindQuoteReceived  Kind = "quote_received"
	KindQuoteAccepted  Kind = "quote_accepted"
	KindQuoteRejected  Kind = "quote_rejected"
	KindQuotePaid      Kind = "quote_paid"
	KindQuoteCompleted Kind = "quote_completed"
	KindQuoteRefunded  Kind = "quote_refunded"
	KindNewMessage     Kind = "new_message"
	KindUnknown        Kind = "unknown"
)

const KindHeader = "X-Eventmarket-Kind"

// NotificationData is the template input shared by all kinds.
type NotificationData struct {
	AppName       string
	RecipientName string
	ActorName     string
	QuoteTitle    string
	Amount        string
	Preview       string
}

type notificationTemplate struct {
	subject *template.Template
	body    *template.Template
}

var notificationTemplates = map[Kind]notificationTemplate{
	KindQuoteReceived: mustTemplates(
		"{{.ActorName}} sent you a quote: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} sent you a quote for \"{{.QuoteTitle}}\" ({{.Amount}}).\nOpen {{.AppName}} to accept or decline it.\n"),
	KindQuoteAccepted: mustTemplates(
		"Quote accepted: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} accepted your quote \"{{.QuoteTitle}}\" ({{.Amount}}).\n"),
	KindQuoteRejected: mustTemplates(
		"Quote declined: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} declined your quote \"{{.QuoteTitle}}\".\n"),
	KindQuotePaid: mustTemplates(
		"Payment received: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} paid {{.Amount}} for \"{{.QuoteTitle}}\".\n"),
	KindQuoteCompleted: mustTemplates(
		"Service completed: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n\"{{.QuoteTitle}}\" was marked as completed by {{.ActorName}}.\nYou can now leave a review on {{.AppName}}.\n"),
	KindQuoteRefunded: mustTemplates(
		"Refund issued: {{.QuoteTitle}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} refunded {{.Amount}} for \"{{.QuoteTitle}}\".\n"),
	KindNewMessage: mustTemplates(
		"New message from {{.ActorName}}",
		"Hi {{.RecipientName}},\n\n{{.ActorName}} wrote:\n\n{{.Preview}}\n"),
}

func mustTemplates(subject, body string) notificationTemplate {
	return notificationTemplate{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

// Render produces the subject and plain-text body of a notification.
func Render(kind Kind, data NotificationData) (string, string, error) {
	tmpl, ok := notificationTemplates[kind]
	if !ok {
		return "", "", fmt.Errorf("no template for email kind %q", kind)
	}
	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render subject for %s: %w", kind, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body for %s: %w", kind, err)
	}
	return subject.String(), body.String(), nil
}

// Compose builds a plain-text RFC 5322 message.
func Compose(from, to string, kind Kind, subject, body string, at time.Time) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "From: %s\r\n", from)
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "Date: %s\r\n", at.Format(time.RFC1123Z))
	fmt.Fprintf(&sb, "%s: %s\r\n", KindHeader, kind)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(sb.String())
}

// KindOf reads the KindHeader of a composed message.
func KindOf(rawMessage []byte) Kind {
	msg, err := mail.ReadMessage(bytes.NewReader(rawMessage))
	if err != nil {
		return KindUnknown
	}
	if k := msg.Header.Get(KindHeader); k != "" {
		return Kind(k)
	}
	return KindUnknown
}
