package email

import (
	"bufio"
	"bytes"
	"fmt"
	"mime"
	"net/textproto"
	"strings"
	"time"
)

// HeaderNotificationType carries the notification type an outgoing message was rendered for.
const HeaderNotificationType = "X-Notification-Type"

// Message is a plain-text email ready to be serialised.
type Message struct {
	From             string
	To               []string
	Subject          string
	Body             string
	NotificationType string
	Date             time.Time
}

// BuildMessage renders m as an RFC 5322 message with CRLF line endings.
func BuildMessage(m Message) []byte {
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	var b bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	header("From", m.From)
	header("To", strings.Join(m.To, ", "))
	header("Subject", mimeHeader(m.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "8bit")
	if m.NotificationType != "" {
		header(HeaderNotificationType, m.NotificationType)
	}
	b.WriteString("\r\n")

	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// NotificationTypeOf returns the X-Notification-Type header of a raw message, or "unknown".
func NotificationTypeOf(rawMessage []byte) string {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(rawMessage)))
	h, err := r.ReadMIMEHeader()
	if err != nil && len(h) == 0 {
		return "unknown"
	}
	if v := h.Get(HeaderNotificationType); v != "" {
		return v
	}
	return "unknown"
}

// mimeHeader Q-encodes non-ASCII header values.
func mimeHeader(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.QEncoding.Encode("utf-8", s)
		}
	}
	return s
}
