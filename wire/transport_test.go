package wire

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func pipeTransports(t *testing.T) (*Transport, net.Conn) {
	t.Helper()
	here, there := net.Pipe()
	tr := NewTransport(here, nil)
	t.Cleanup(func() {
		tr.Close()
		there.Close()
	})
	return tr, there
}

func TestSendFrames(t *testing.T) {
	tr, peer := pipeTransports(t)
	done := make(chan error, 1)
	go func() {
		done <- tr.Send("MAIL FROM:<a@b.com>")
	}()
	line, err := bufio.NewReader(peer).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "MAIL FROM:<a@b.com>\r\n" {
		t.Errorf("wrong framing: %q", line)
	}
	if err := <-done; err != nil {
		t.Error(err)
	}
}

func TestReadLineStripsDelimiter(t *testing.T) {
	tr, peer := pipeTransports(t)
	go peer.Write([]byte("250 OK\r\n"))
	line, err := tr.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "250 OK" {
		t.Errorf("got %q", line)
	}
}

func TestReadLineSpansWrites(t *testing.T) {
	tr, peer := pipeTransports(t)
	go func() {
		peer.Write([]byte("Subject: par"))
		time.Sleep(10 * time.Millisecond)
		peer.Write([]byte("tial\r\n"))
	}()
	line, err := tr.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "Subject: partial" {
		t.Errorf("got %q", line)
	}
}

func TestHasDataDoesNotConsume(t *testing.T) {
	tr, peer := pipeTransports(t)

	has, err := tr.HasData()
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("reported data on an idle connection")
	}

	go peer.Write([]byte("HELO box\r\n"))
	deadline := time.Now().Add(time.Second)
	for {
		if has, err = tr.HasData(); err != nil {
			t.Fatal(err)
		}
		if has || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !has {
		t.Fatal("never saw pending data")
	}
	// the probe must not have eaten anything
	line, err := tr.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "HELO box" {
		t.Errorf("got %q", line)
	}
}

func TestSendObfuscatedLog(t *testing.T) {
	var logged []string
	here, there := net.Pipe()
	defer there.Close()
	tr := NewTransport(here, func(line string) { logged = append(logged, line) })
	defer tr.Close()

	go func() {
		r := bufio.NewReader(there)
		r.ReadString('\n')
		r.ReadString('\n')
	}()
	if err := tr.Send("user1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SendObfuscated("hunter2"); err != nil {
		t.Fatal(err)
	}
	if len(logged) != 2 {
		t.Fatal("expected 2 log lines, got", len(logged))
	}
	if logged[0] != "user1" {
		t.Error("plain send logged as", logged[0])
	}
	if logged[1] != strings.Repeat("*", len("hunter2")) {
		t.Error("password leaked into log:", logged[1])
	}
}

func TestCloseIdempotent(t *testing.T) {
	tr, _ := pipeTransports(t)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Error("second close should be a no-op, got", err)
	}
	if err := tr.Send("anything"); err != ErrConnClosed {
		t.Error("expected ErrConnClosed, got", err)
	}
}
