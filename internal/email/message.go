package email

import (
	"fmt"
	"mime"
	"strings"
	"time"
)

// Kind tags a notification so mock sinks can index it.
type Kind string

const (
	KindNewOffer      Kind = "new_offer"
	KindNewMessage    Kind = "new_message"
	KindShowingBooked Kind = "showing_booked"
)

// KindHeader carries the Kind inside the raw message.
const KindHeader = "X-Notification-Kind"

// Message is a plain-text notification.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Kind    Kind
}

// Raw renders m as an RFC 5322 message with CRLF line endings.
func (m Message) Raw() []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", m.To)
	fmt.Fprintf(&sb, "From: %s\r\n", m.From)
	fmt.Fprintf(&sb, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	if m.Kind != "" {
		fmt.Fprintf(&sb, "%s: %s\r\n", KindHeader, m.Kind)
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

// kindOf reads the notification kind back from a raw message.
func kindOf(raw []byte) Kind {
	head, _, _ := strings.Cut(string(raw), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(name, KindHeader) {
			return Kind(strings.TrimSpace(value))
		}
	}
	return "unknown"
}
