// Package queue routes accepted mail. Local recipients wait in the incoming
// queue until they have a live session to push the message to; remote
// recipients wait in the outgoing queue until the message is relayed to their
// host. Both queues survive a restart through a Store.
package queue

import (
	"io"

	"github.com/pigeonpost/go-pigeon/internal/binrec"
	"github.com/pigeonpost/go-pigeon/mail"
)

// LocalEntry is one message waiting for delivery to a local mailbox.
type LocalEntry struct {
	User string
	Msg  *mail.Message
}

// State is everything a Store persists between runs.
type State struct {
	Incoming []LocalEntry
	Outgoing []*mail.Envelope
}

// Depth counts the entries held in State.
func (s State) Depth() (incoming, outgoing int) {
	return len(s.Incoming), len(s.Outgoing)
}

func writeMessage(w io.Writer, m *mail.Message) error {
	if err := binrec.WriteBool(w, m.Encrypted); err != nil {
		return err
	}
	if err := binrec.WriteBool(w, m.Parsed); err != nil {
		return err
	}
	if err := binrec.WriteString(w, m.From); err != nil {
		return err
	}
	if err := binrec.WriteStrings(w, m.To); err != nil {
		return err
	}
	if err := binrec.WriteStrings(w, m.Cc); err != nil {
		return err
	}
	if err := binrec.WriteString(w, m.Date); err != nil {
		return err
	}
	if err := binrec.WriteString(w, m.Subject); err != nil {
		return err
	}
	body := []byte(m.Body)
	return binrec.WriteBytes(w, body)
}

func readMessage(r io.Reader) (*mail.Message, error) {
	var m mail.Message
	var err error
	if m.Encrypted, err = binrec.ReadBool(r); err != nil {
		return nil, err
	}
	if m.Parsed, err = binrec.ReadBool(r); err != nil {
		return nil, err
	}
	if m.From, err = binrec.ReadString(r); err != nil {
		return nil, err
	}
	if m.To, err = binrec.ReadStrings(r); err != nil {
		return nil, err
	}
	if m.Cc, err = binrec.ReadStrings(r); err != nil {
		return nil, err
	}
	if m.Date, err = binrec.ReadString(r); err != nil {
		return nil, err
	}
	if m.Subject, err = binrec.ReadString(r); err != nil {
		return nil, err
	}
	body, err := binrec.ReadBytes(r)
	if err != nil {
		return nil, err
	}
	m.Body = string(body)
	return &m, nil
}

func writeLocalEntry(w io.Writer, e LocalEntry) error {
	if err := binrec.WriteString(w, e.User); err != nil {
		return err
	}
	return writeMessage(w, e.Msg)
}

func readLocalEntry(r io.Reader) (LocalEntry, error) {
	var e LocalEntry
	var err error
	if e.User, err = binrec.ReadString(r); err != nil {
		return e, err
	}
	e.Msg, err = readMessage(r)
	return e, err
}

func writeEnvelope(w io.Writer, env *mail.Envelope) error {
	if err := writeMessage(w, &env.Message); err != nil {
		return err
	}
	if err := binrec.WriteString(w, env.SMTPFrom); err != nil {
		return err
	}
	return binrec.WriteStrings(w, env.SMTPRecipients)
}

func readEnvelope(r io.Reader) (*mail.Envelope, error) {
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	env := &mail.Envelope{Message: *m}
	if env.SMTPFrom, err = binrec.ReadString(r); err != nil {
		return nil, err
	}
	if env.SMTPRecipients, err = binrec.ReadStrings(r); err != nil {
		return nil, err
	}
	return env, nil
}
