// Package client drives the sending side of the protocol: it dials a server,
// performs the greeting and login dialog and then runs a session worker so
// mail can be sent and received over the same connection. The queue processor
// uses the stateless Relay helper for server to server forwarding.
package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/session"
	"github.com/pigeonpost/go-pigeon/wire"
)

// DialTimeout bounds the TCP connect and each handshake read.
const DialTimeout = 10 * time.Second

var (
	// ErrLoginRejected is returned when the server answers DECLINED
	ErrLoginRejected = errors.New("client: login rejected")
	// ErrClosed is returned by Send after the connection has gone away
	ErrClosed = errors.New("client: connection closed")
)

// Events receives callbacks from the client's session goroutine.
type Events interface {
	// OnMailReceived is called with each message the server pushes down
	OnMailReceived(env *mail.Envelope)
	// OnDisconnect is called once when the connection ends, however it ends
	OnDisconnect()
}

// NopEvents discards all callbacks.
type NopEvents struct{}

func (NopEvents) OnMailReceived(*mail.Envelope) {}
func (NopEvents) OnDisconnect()                 {}

var clientID uint64

// Client is one logged-in connection to a server.
type Client struct {
	Username string

	sess   *session.Session
	log    log.Logger
	events Events
}

// Dial connects to addr, runs the greeting and login dialog and starts the
// session worker. On DECLINED the connection is closed and ErrLoginRejected
// returned.
func Dial(addr, username, password string, events Events, l log.Logger) (*Client, error) {
	if events == nil {
		events = NopEvents{}
	}
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, err
	}
	tr := wire.NewTransport(conn, func(line string) {
		l.Debugf("-> %s", line)
	})

	if err := handshake(tr, username, password); err != nil {
		tr.Close()
		return nil, err
	}

	c := &Client{
		Username: username,
		log:      l,
		events:   events,
	}
	c.sess = session.New(atomic.AddUint64(&clientID, 1), tr, (*clientHandler)(c), l)
	c.sess.Username = username
	c.sess.Start()
	return c, nil
}

// handshake runs the lock-step greeting and login dialog on the dialing
// goroutine, before the session worker takes over the reader.
func handshake(tr *wire.Transport, username, password string) error {
	greeting, err := readHandshakeLine(tr)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(greeting, strconv.Itoa(wire.CodeGreeting)) {
		return fmt.Errorf("client: unexpected greeting %q", greeting)
	}
	if err := tr.Send(wire.Helo(tr.LocalHost())); err != nil {
		return err
	}
	if _, err := readHandshakeLine(tr); err != nil { // 250 Hello ...
		return err
	}
	if err := tr.Send(username); err != nil {
		return err
	}
	if err := tr.SendObfuscated(password); err != nil {
		return err
	}
	verdict, err := readHandshakeLine(tr)
	if err != nil {
		return err
	}
	if verdict != wire.LoginAccepted {
		return ErrLoginRejected
	}
	return nil
}

func readHandshakeLine(tr *wire.Transport) (string, error) {
	deadline := time.Now().Add(DialTimeout)
	for {
		has, err := tr.HasData()
		if err != nil {
			return "", err
		}
		if has {
			return tr.ReadLine()
		}
		if time.Now().After(deadline) {
			return "", errors.New("client: handshake timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Send transmits msg over the session and blocks until the server has
// acknowledged the whole transaction.
func (c *Client) Send(msg *mail.Message) error {
	errc := make(chan error, 1)
	c.sess.Submit(func(s *session.Session) {
		errc <- wire.WriteMessage(s.Transport(), msg)
	})
	select {
	case err := <-errc:
		return err
	case <-c.sess.Done():
		return ErrClosed
	}
}

// Quit says goodbye and tears the connection down. It blocks until the
// session worker has exited.
func (c *Client) Quit() {
	c.sess.Submit(func(s *session.Session) {
		if err := s.Transport().Send("QUIT"); err == nil {
			// the farewell line, best effort
			_, _ = s.Transport().ReadLineTimeout(wire.ReplyTimeout)
		}
		s.Halt()
	})
	c.sess.Wait()
}

// Close drops the connection without the goodbye dialog.
func (c *Client) Close() {
	c.sess.Halt()
	c.sess.Wait()
}

// clientHandler adapts Events to the session Handler interface. The only
// unsolicited traffic a server sends is pushed mail, opened by a MAIL FROM
// line.
type clientHandler Client

func (h *clientHandler) OnLine(s *session.Session, line string) {
	if strings.HasPrefix(strings.ToUpper(line), wire.MailFromPrefix) {
		env, err := wire.ReadMessage(s.Transport(), line)
		if err != nil {
			h.log.WithError(err).Warn("inbound mail transaction failed")
			s.Halt()
			return
		}
		h.events.OnMailReceived(env)
		return
	}
	h.log.Debugf("ignoring unsolicited line %q", line)
}

func (h *clientHandler) OnStop(s *session.Session) {
	h.events.OnDisconnect()
}

// Relay dials addr, logs in with the relay identity, sends msg and quits.
// It runs the whole dialog on the calling goroutine; the queue processor is
// its caller.
func Relay(addr, username, password string, msg *mail.Message, l log.Logger) error {
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return err
	}
	tr := wire.NewTransport(conn, func(line string) {
		l.Debugf("=> %s", line)
	})
	defer tr.Close()

	if err := handshake(tr, username, password); err != nil {
		return err
	}
	if err := wire.WriteMessage(tr, msg); err != nil {
		return err
	}
	if err := tr.Send("QUIT"); err != nil {
		return err
	}
	_, _ = tr.ReadLineTimeout(wire.ReplyTimeout)
	return nil
}
