package client

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/wire"
)

func testLogger(t *testing.T) log.Logger {
	t.Helper()
	l, err := log.GetLogger(log.OutputOff.String(), "debug")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// script is one half of a scripted server conversation.
type script struct {
	conn net.Conn
	r    *bufio.Reader
	t    *testing.T
}

func (s *script) send(line string) {
	s.t.Helper()
	if _, err := s.conn.Write([]byte(line + wire.Delimiter)); err != nil {
		s.t.Error("script send:", err)
	}
}

func (s *script) read() string {
	s.t.Helper()
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Error("script read:", err)
		return ""
	}
	return strings.TrimSuffix(line, wire.Delimiter)
}

func (s *script) expectPrefix(prefix string) string {
	s.t.Helper()
	line := s.read()
	if !strings.HasPrefix(strings.ToUpper(line), strings.ToUpper(prefix)) {
		s.t.Errorf("expected %q prefix, got %q", prefix, line)
	}
	return line
}

// fakeServer runs handle for the first accepted connection and returns the
// listen address.
func fakeServer(t *testing.T, handle func(s *script)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(&script{conn: conn, r: bufio.NewReader(conn), t: t})
	}()
	return ln.Addr().String()
}

// greetAndLogin scripts the server half of the handshake.
func greetAndLogin(s *script, verdict string) (user, pass string) {
	s.send("220 fake.test ESMTP")
	s.expectPrefix("HELO")
	s.send("250 Hello tester, I am glad to meet you")
	user = s.read()
	pass = s.read()
	s.send(verdict)
	return user, pass
}

func TestDialLoginAccepted(t *testing.T) {
	got := make(chan [2]string, 1)
	addr := fakeServer(t, func(s *script) {
		u, p := greetAndLogin(s, wire.LoginAccepted)
		got <- [2]string{u, p}
		s.expectPrefix("QUIT")
		s.send("221 fake.test Service closing transmission channel")
	})

	c, err := Dial(addr, "user1", "password1", nil, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Quit()

	creds := <-got
	if creds[0] != "user1" || creds[1] != "password1" {
		t.Error("server saw credentials", creds)
	}
}

func TestDialLoginDeclined(t *testing.T) {
	addr := fakeServer(t, func(s *script) {
		greetAndLogin(s, wire.LoginDeclined)
	})

	if _, err := Dial(addr, "user1", "wrong", nil, testLogger(t)); err != ErrLoginRejected {
		t.Fatal("expected ErrLoginRejected, got", err)
	}
}

func TestDialBadGreeting(t *testing.T) {
	addr := fakeServer(t, func(s *script) {
		s.send("554 go away")
	})

	if _, err := Dial(addr, "user1", "x", nil, testLogger(t)); err == nil {
		t.Fatal("expected an error for a non-220 greeting")
	}
}

func TestSendRunsFullTransaction(t *testing.T) {
	lines := make(chan []string, 1)
	addr := fakeServer(t, func(s *script) {
		greetAndLogin(s, wire.LoginAccepted)
		s.expectPrefix(wire.MailFromPrefix)
		s.send(wire.ReplyOK)
		s.expectPrefix(wire.RcptToPrefix)
		s.send(wire.ReplyOK)
		s.expectPrefix(wire.DataHeader)
		s.send(wire.ReplyStartData)
		var content []string
		for {
			line := s.read()
			if line == wire.Terminator {
				break
			}
			content = append(content, line)
		}
		s.send(wire.ReplyOK)
		lines <- content
	})

	c, err := Dial(addr, "user1", "password1", nil, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	msg := mail.NewMessage([]string{"bob@fake.test"}, "user1@here.test", "Hi", "hello\n")
	if err := c.Send(msg); err != nil {
		t.Fatal(err)
	}

	content := <-lines
	if content[0] != wire.PlainMarker {
		t.Error("first content line:", content[0])
	}
	if content[1] != "From: user1@here.test" {
		t.Error("second content line:", content[1])
	}
}

func TestClientReceivesPushedMail(t *testing.T) {
	addr := fakeServer(t, func(s *script) {
		greetAndLogin(s, wire.LoginAccepted)
		// push a message down to the client
		s.send(wire.MailFrom("alice@fake.test"))
		s.expectPrefix("250")
		s.send(wire.RcptTo("user1@here.test"))
		s.expectPrefix("250")
		s.send(wire.DataHeader)
		s.expectPrefix("354")
		for _, line := range []string{
			wire.PlainMarker,
			"From: alice@fake.test",
			"To: user1@here.test",
			"Cc: ",
			"Date: 2026-08-24 11:00:00",
			"Subject: Pushed",
			"",
			"surprise",
			wire.Terminator,
		} {
			s.send(line)
		}
		s.expectPrefix("250")
	})

	var mu sync.Mutex
	var envs []*mail.Envelope
	events := eventsFunc{
		onMail: func(env *mail.Envelope) {
			mu.Lock()
			envs = append(envs, env)
			mu.Unlock()
		},
	}

	c, err := Dial(addr, "user1", "password1", events, testLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(envs)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pushed mail never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if envs[0].Subject != "Pushed" {
		t.Error("subject:", envs[0].Subject)
	}
	if envs[0].SMTPFrom != "alice@fake.test" {
		t.Error("envelope from:", envs[0].SMTPFrom)
	}
}

func TestRelay(t *testing.T) {
	sawQuit := make(chan bool, 1)
	addr := fakeServer(t, func(s *script) {
		u, p := greetAndLogin(s, wire.LoginAccepted)
		if u != "server" || p != "server" {
			s.t.Error("relay identity:", u, p)
		}
		s.expectPrefix(wire.MailFromPrefix)
		s.send(wire.ReplyOK)
		s.expectPrefix(wire.RcptToPrefix)
		s.send(wire.ReplyOK)
		s.expectPrefix(wire.DataHeader)
		s.send(wire.ReplyStartData)
		for {
			if s.read() == wire.Terminator {
				break
			}
		}
		s.send(wire.ReplyOK)
		s.expectPrefix("QUIT")
		s.send("221 fake.test Service closing transmission channel")
		sawQuit <- true
	})

	msg := mail.NewMessage([]string{"bob@fake.test"}, "a@here.test", "Relayed", "x\n")
	if err := Relay(addr, "server", "server", msg, testLogger(t)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sawQuit:
	case <-time.After(5 * time.Second):
		t.Fatal("relay dialog never finished")
	}
}

// eventsFunc adapts closures to the Events interface.
type eventsFunc struct {
	onMail func(*mail.Envelope)
	onGone func()
}

func (e eventsFunc) OnMailReceived(env *mail.Envelope) {
	if e.onMail != nil {
		e.onMail(env)
	}
}

func (e eventsFunc) OnDisconnect() {
	if e.onGone != nil {
		e.onGone()
	}
}
