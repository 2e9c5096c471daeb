package wire

import (
	"bufio"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// ErrConnClosed is returned by Transport operations after the peer hung up
// or Close was called.
var ErrConnClosed = errors.New("wire: connection closed")

// LogFunc receives a copy of every line the transport sends.
type LogFunc func(line string)

// Transport owns one TCP connection and frames protocol lines over it.
// The writer is guarded so that any goroutine may send; the reader must only
// be used by the owning session loop.
type Transport struct {
	conn  net.Conn
	bufin *bufio.Reader

	// sendGuard serializes writers
	sendGuard sync.Mutex
	// connGuard guards closed
	connGuard sync.Mutex
	closed    bool

	logLine LogFunc

	enc *encoding.Encoder
	dec *encoding.Decoder

	// cached reverse lookups
	localHost  string
	remoteHost string
}

// NewTransport wraps conn. logLine may be nil.
func NewTransport(conn net.Conn, logLine LogFunc) *Transport {
	if logLine == nil {
		logLine = func(string) {}
	}
	return &Transport{
		conn:    conn,
		bufin:   bufio.NewReader(conn),
		logLine: logLine,
		enc:     encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()),
		dec:     charmap.ISO8859_1.NewDecoder(),
	}
}

// Send writes one framed line and flushes it.
func (t *Transport) Send(line string) error {
	return t.send(line, false)
}

// SendObfuscated is Send, but the log callback sees every character
// replaced with '*'. Used for password lines.
func (t *Transport) SendObfuscated(line string) error {
	return t.send(line, true)
}

func (t *Transport) send(line string, obfuscate bool) error {
	t.sendGuard.Lock()
	defer t.sendGuard.Unlock()
	if t.isClosed() {
		return ErrConnClosed
	}
	if obfuscate {
		t.logLine(strings.Repeat("*", len(line)))
	} else {
		t.logLine(line)
	}
	encoded, err := t.enc.String(line)
	if err != nil {
		// ReplaceUnsupported never errors, but keep the check honest
		encoded = line
	}
	if _, err := t.conn.Write([]byte(encoded + Delimiter)); err != nil {
		return t.readWriteErr(err)
	}
	return nil
}

// ReadLine blocks until the next framed line arrives and returns it without
// the delimiter.
func (t *Transport) ReadLine() (string, error) {
	var input string
	for {
		chunk, err := t.bufin.ReadString('\n')
		input += chunk
		if err != nil {
			return "", t.readWriteErr(err)
		}
		if strings.HasSuffix(input, Delimiter) {
			input = input[:len(input)-len(Delimiter)]
			break
		}
	}
	decoded, err := t.dec.String(input)
	if err != nil {
		return input, nil
	}
	return decoded, nil
}

// ReadLineTimeout is ReadLine bounded by a deadline. It exists for the
// acknowledgment reads inside a mail transaction, which run on the session
// goroutine and must not block it indefinitely.
func (t *Transport) ReadLineTimeout(d time.Duration) (string, error) {
	if t.isClosed() {
		return "", ErrConnClosed
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return "", t.readWriteErr(err)
	}
	line, err := t.ReadLine()
	_ = t.conn.SetReadDeadline(time.Time{})
	return line, err
}

// HasData reports whether a read would find at least one byte without
// consuming anything. It must only be called by the goroutine that owns
// the reader.
func (t *Transport) HasData() (bool, error) {
	if t.bufin.Buffered() > 0 {
		return true, nil
	}
	if t.isClosed() {
		return false, ErrConnClosed
	}
	// peek with a near-immediate deadline so the probe can't block
	if err := t.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false, t.readWriteErr(err)
	}
	_, err := t.bufin.Peek(1)
	// clear the deadline for the next blocking read
	_ = t.conn.SetReadDeadline(time.Time{})
	if err == nil {
		return true, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	return false, t.readWriteErr(err)
}

// Close tears the connection down. Safe to call more than once.
func (t *Transport) Close() error {
	t.connGuard.Lock()
	defer t.connGuard.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func (t *Transport) isClosed() bool {
	t.connGuard.Lock()
	defer t.connGuard.Unlock()
	return t.closed
}

func (t *Transport) readWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if t.isClosed() || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "EOF") {
		return ErrConnClosed
	}
	return err
}

// LocalHost returns the best name for this end of the connection.
func (t *Transport) LocalHost() string {
	if t.localHost == "" {
		t.localHost = lookupName(t.conn.LocalAddr())
		if t.localHost == "" {
			if h, err := os.Hostname(); err == nil {
				t.localHost = h
			}
		}
	}
	return t.localHost
}

// RemoteHost returns the reverse name of the peer, falling back to its IP.
func (t *Transport) RemoteHost() string {
	if t.remoteHost == "" {
		t.remoteHost = lookupName(t.conn.RemoteAddr())
		if t.remoteHost == "" {
			t.remoteHost = t.RemoteIP()
		}
	}
	return t.remoteHost
}

// RemoteIP returns the peer's IP address as a string.
func (t *Transport) RemoteIP() string {
	if addr, ok := t.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String()
	}
	host, _, err := net.SplitHostPort(t.conn.RemoteAddr().String())
	if err != nil {
		return t.conn.RemoteAddr().String()
	}
	return host
}

func lookupName(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
		return strings.TrimSuffix(names[0], ".")
	}
	return host
}
