package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pigeonpost/go-pigeon/mail"
)

var (
	// ErrNoSender rejects submission of a message without a from address
	ErrNoSender = errors.New("wire: cannot send a message with no from address")
	// ErrNoRecipients rejects submission of a message without any recipients
	ErrNoRecipients = errors.New("wire: cannot send a message without any recipients")
)

// ReplyTimeout bounds each acknowledgment read inside a mail transaction, so
// a stalled peer fails the transaction instead of wedging the session
// goroutine.
var ReplyTimeout = 30 * time.Second

// FormatContents serializes a message into the ordered DATA line sequence:
// marker, From, To, Cc, Date, Subject, blank separator, body lines. A parsed
// message already carries the header block inside its body, so its content
// lines are re-emitted as received; generating a fresh block around them
// would duplicate the headers on every hop. When the message is marked
// encrypted every line except the marker is substituted.
func FormatContents(m *mail.Message) []string {
	marker := PlainMarker
	if m.Encrypted {
		marker = EncryptedMarker
	}

	var lines []string
	if m.Parsed {
		// the parser joins every content line with a trailing newline
		body := strings.TrimSuffix(m.Body, "\n")
		lines = append([]string{marker}, strings.Split(body, "\n")...)
	} else {
		lines = make([]string, 0, 8)
		lines = append(lines, marker)
		lines = append(lines, "From: "+m.From)
		lines = append(lines, addressLine("To: ", m.To))
		lines = append(lines, addressLine("Cc: ", m.Cc))
		lines = append(lines, "Date: "+m.Date)
		lines = append(lines, "Subject: "+m.Subject)
		lines = append(lines, "")
		lines = append(lines, strings.Split(m.Body, "\n")...)
	}

	if m.Encrypted {
		lines = ShiftLines(lines, ShiftAmount)
	}
	return lines
}

func addressLine(prefix string, addrs []string) string {
	return prefix + strings.Join(addrs, ", ")
}

// EnvelopeRecipients returns the envelope recipient list for a message:
// To then Cc, in order, empties skipped.
func EnvelopeRecipients(m *mail.Message) []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, lists := range [][]string{m.To, m.Cc} {
		for _, addr := range lists {
			if addr == "" {
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}

// WriteMessage runs the sending half of a mail transaction over t: the
// envelope dialog, the body and the terminator, consuming and verifying the
// peer's acknowledgment after each step. Each acknowledgment read is bounded
// by ReplyTimeout and must carry the expected reply code; anything else
// means the dialog has lost lock-step and the transaction fails rather than
// misreading the peer's lines. It must run on the goroutine that owns the
// transport's reader.
func WriteMessage(t *Transport, m *mail.Message) error {
	if m.From == "" {
		return ErrNoSender
	}
	recipients := EnvelopeRecipients(m)
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	if err := t.Send(MailFrom(m.From)); err != nil {
		return err
	}
	if err := readReply(t, CodeOK); err != nil {
		return err
	}

	for _, addr := range recipients {
		if err := t.Send(RcptTo(addr)); err != nil {
			return err
		}
		if err := readReply(t, CodeOK); err != nil {
			return err
		}
	}

	if err := t.Send(DataHeader); err != nil {
		return err
	}
	if err := readReply(t, CodeStartData); err != nil {
		return err
	}

	for _, line := range FormatContents(m) {
		if err := t.Send(line); err != nil {
			return err
		}
	}
	if err := t.Send(Terminator); err != nil {
		return err
	}
	return readReply(t, CodeOK)
}

// readReply consumes one acknowledgment line and checks its reply code.
func readReply(t *Transport, wantCode int) error {
	line, err := t.ReadLineTimeout(ReplyTimeout)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, strconv.Itoa(wantCode)) {
		return fmt.Errorf("wire: expected a %d reply, got %q", wantCode, line)
	}
	return nil
}

// ReadMessage runs the receiving half of a mail transaction. firstLine is
// the MAIL FROM line that triggered the dispatch; ReadMessage acknowledges
// each step, reads the body up to the terminator, reverses the substitution
// when the encryption marker was present and returns the parsed envelope.
func ReadMessage(t *Transport, firstLine string) (*mail.Envelope, error) {
	smtpFrom := extractAngle(firstLine)
	if err := t.Send(ReplyOK); err != nil {
		return nil, err
	}

	// a variable number of envelope recipients
	var recipients []string
	line, err := t.ReadLine()
	if err != nil {
		return nil, err
	}
	for strings.HasPrefix(strings.ToUpper(line), RcptToPrefix) {
		if addr := extractAngle(line); addr != "" {
			recipients = append(recipients, addr)
		}
		if err := t.Send(ReplyOK); err != nil {
			return nil, err
		}
		if line, err = t.ReadLine(); err != nil {
			return nil, err
		}
	}

	// the line after the last recipient is the DATA header
	if err := t.Send(ReplyStartData); err != nil {
		return nil, err
	}

	// first content line selects the encryption marker
	line, err = t.ReadLine()
	if err != nil {
		return nil, err
	}
	encrypted := line == EncryptedMarker

	var contents []string
	for {
		if line, err = t.ReadLine(); err != nil {
			return nil, err
		}
		if line == Terminator {
			break
		}
		contents = append(contents, line)
	}
	if err := t.Send(ReplyOK); err != nil {
		return nil, err
	}

	// restore plaintext before the message is passed around internally
	if encrypted {
		for i := range contents {
			contents[i] = Unshift(contents[i])
		}
	}
	return mail.NewEnvelope(encrypted, smtpFrom, recipients, contents), nil
}

// extractAngle pulls the address out of a MAIL FROM:<...> or RCPT TO:<...>
// line. A line without angle brackets yields everything after the colon.
func extractAngle(line string) string {
	if i := strings.IndexByte(line, '<'); i >= 0 {
		if j := strings.LastIndexByte(line, '>'); j > i {
			return line[i+1 : j]
		}
	}
	if i := strings.IndexByte(line, ':'); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return ""
}
