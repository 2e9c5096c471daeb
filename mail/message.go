// Package mail holds the message model shared by the server, the queues and
// the client driver.
package mail

import (
	"fmt"
	"strings"
	"time"
)

// DateFormat is the display format used when a compose helper stamps a message.
const DateFormat = "2006-01-02 15:04:05"

// Message represents a single piece of mail as composed or as displayed.
// The To and Cc lists keep their insertion order. A Message is treated as
// immutable once it has been submitted to a queue; Copy exists so that
// producers can enforce that.
type Message struct {
	// Encrypted controls whether the body crosses the wire substituted
	Encrypted bool
	// From is the sender's address
	From string
	// To recipients, in order
	To []string
	// Cc recipients, in order
	Cc []string
	// Date is a display string, not interpreted
	Date string
	// Subject line
	Subject string
	// Body may contain newlines
	Body string
	// Parsed marks a message built by the wire parser. Its Body then holds
	// the full received contents, header block included, and serialization
	// re-emits those lines verbatim instead of generating a second block.
	Parsed bool
}

// NewMessage is a compose convenience that stamps the current time.
func NewMessage(to []string, from, subject, body string) *Message {
	return &Message{
		From:    from,
		To:      append([]string{}, to...),
		Date:    time.Now().Format(DateFormat),
		Subject: subject,
		Body:    body,
	}
}

// Copy returns a deep copy of the message.
func (m *Message) Copy() *Message {
	out := *m
	out.To = append([]string{}, m.To...)
	out.Cc = append([]string{}, m.Cc...)
	return &out
}

// String returns the canonical representation, used by the delivery log sinks.
func (m *Message) String() string {
	return fmt.Sprintf("Encrypted: %t\n"+
		"From: %s\n"+
		"To: %s\n"+
		"Cc: %s\n"+
		"Date: %s\n"+
		"Subject: %s\n"+
		"Body:\n%s\n",
		m.Encrypted,
		m.From,
		strings.Join(m.To, ", "),
		strings.Join(m.Cc, ", "),
		m.Date,
		m.Subject,
		m.Body)
}
