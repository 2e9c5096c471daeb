package mail

import (
	"regexp"
	"strings"
)

// addressPattern finds email addresses embedded in header lines.
var addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+`)

// Envelope is a Message together with the envelope addresses read off the
// wire. The envelope addresses drive routing; they need not equal the
// display To/Cc lists.
type Envelope struct {
	Message
	// SMTPFrom is the address from MAIL FROM:<...>
	SMTPFrom string
	// SMTPRecipients are the addresses from the RCPT TO:<...> lines, in order
	SMTPRecipients []string
}

// NewEnvelope builds an envelope from the raw DATA contents received off the
// wire. contents holds every line after the encryption marker up to (not
// including) the terminating dot, already un-substituted when encrypted.
//
// The first five lines carry From, To, Cc, Date and Subject; the display
// body spans all of contents joined by newlines, header block included.
func NewEnvelope(encrypted bool, smtpFrom string, smtpRecipients []string, contents []string) *Envelope {
	e := &Envelope{
		SMTPFrom:       smtpFrom,
		SMTPRecipients: append([]string{}, smtpRecipients...),
	}
	e.Encrypted = encrypted
	e.parseContents(contents)
	return e
}

func (e *Envelope) parseContents(contents []string) {
	header := func(i int, prefix string) string {
		if i >= len(contents) {
			return ""
		}
		return strings.TrimPrefix(contents[i], prefix)
	}

	if from := ExtractAddresses(header(0, "From: ")); len(from) > 0 {
		e.From = from[0]
	}
	e.To = ExtractAddresses(header(1, "To: "))
	e.Cc = ExtractAddresses(header(2, "Cc: "))
	e.Date = header(3, "Date: ")
	e.Subject = header(4, "Subject: ")

	var b strings.Builder
	for _, line := range contents {
		b.WriteString(line)
		b.WriteString("\n")
	}
	e.Body = b.String()
	e.Parsed = true
}

// ExtractAddresses returns all non-overlapping address matches in order.
func ExtractAddresses(line string) []string {
	return addressPattern.FindAllString(line, -1)
}

// SplitUserHost splits addr once on '@' into user and host. ok is false when
// either side is empty or the separator is missing.
func SplitUserHost(addr string) (user, host string, ok bool) {
	user, host, found := strings.Cut(addr, "@")
	if !found || user == "" || host == "" {
		return user, host, false
	}
	return user, host, true
}
