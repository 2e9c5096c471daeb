package pigeon

import (
	"net"
	"sync"
	"time"

	"github.com/pigeonpost/go-pigeon/auth"
	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/metrics"
	"github.com/pigeonpost/go-pigeon/session"
	"github.com/pigeonpost/go-pigeon/wire"
)

// handshakeTimeout bounds the greeting and login dialog. A peer that stalls
// mid-login is cut off; an established session has no read deadline.
const handshakeTimeout = 30 * time.Second

// Listener accepts connections, runs the greeting and login dialog and hands
// accepted peers to session workers. Logged-in users are registered by name
// so mail can be pushed to them while they are online; a second login by the
// same user evicts the first session.
type Listener struct {
	addr      string
	hostName  string
	relayUser string
	relayPass string

	auth     *auth.Store
	handler  session.Handler
	log      log.Logger
	stats    metrics.Collector
	events   *EventHandler
	notifier Notifier

	ln net.Listener
	wg sync.WaitGroup

	mu        sync.Mutex
	sessions  map[string]*session.Session
	nextID    uint64
	allowAnon bool
	closed    bool
}

// NewListener wires a listener; Start binds the socket.
func NewListener(cfg *AppConfig, store *auth.Store, handler session.Handler,
	l log.Logger, stats metrics.Collector, events *EventHandler, notifier Notifier) *Listener {
	return &Listener{
		addr:      cfg.ListenInterface,
		hostName:  cfg.HostName,
		relayUser: cfg.RelayUsername,
		relayPass: cfg.RelayPassword,
		allowAnon: cfg.AllowAnonymous,
		auth:      store,
		handler:   handler,
		log:       l,
		stats:     stats,
		events:    events,
		notifier:  notifier,
		sessions:  make(map[string]*session.Session),
	}
}

// Start binds the listen socket and begins accepting. Bind errors are
// returned synchronously.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.ln = ln
	l.log.Infof("listening on %s as %s", l.addr, l.hostName)
	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address, useful when the config asked for port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// SetAllowAnonymous flips anonymous access at runtime.
func (l *Listener) SetAllowAnonymous(allow bool) {
	l.mu.Lock()
	l.allowAnon = allow
	l.mu.Unlock()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() {
				return
			}
			l.log.WithError(err).Error("accept failed")
			return
		}
		l.wg.Add(1)
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	l.stats.ConnectionOpened()
	defer l.stats.ConnectionClosed()

	tr := wire.NewTransport(conn, func(line string) {
		l.log.Debugf("-> %s", line)
	})

	username, ok := l.login(conn, tr)
	if !ok {
		tr.Close()
		return
	}

	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	sess := session.New(id, tr, l.handler, l.log)
	sess.Username = username
	isRelay := username == l.relayUser
	if !isRelay {
		l.register(username, sess)
		defer l.unregister(username, sess)
	}
	l.log.WithConn(conn).Infof("session %d started for %s", id, username)
	sess.Start()
	sess.Wait()
	l.log.Debugf("session %d ended", id)
}

// login runs the greeting dialog and checks credentials. The relay identity
// is always allowed in.
func (l *Listener) login(conn net.Conn, tr *wire.Transport) (string, bool) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	// reads inside the login dialog observe the handshake deadline
	defer conn.SetDeadline(time.Time{})

	if err := tr.Send(wire.Greeting(l.hostName)); err != nil {
		return "", false
	}
	if _, err := tr.ReadLine(); err != nil { // HELO ...
		return "", false
	}
	if err := tr.Send(wire.HelloReply(tr.RemoteHost())); err != nil {
		return "", false
	}
	username, err := tr.ReadLine()
	if err != nil {
		return "", false
	}
	password, err := tr.ReadLine()
	if err != nil {
		return "", false
	}

	l.mu.Lock()
	allowAnon := l.allowAnon
	l.mu.Unlock()

	accepted := (username == l.relayUser && password == l.relayPass) ||
		l.auth.IsValidLogin(username, password) ||
		(allowAnon && username != "")
	l.stats.LoginResult(accepted)

	if !accepted {
		l.log.WithConn(conn).Infof("declined login for %q", username)
		_ = tr.Send(wire.LoginDeclined)
		return "", false
	}
	if err := tr.Send(wire.LoginAccepted); err != nil {
		return "", false
	}
	l.events.Publish(EventSessionLogin, username)
	l.notifier.OnUserLogin(username)
	return username, true
}

func (l *Listener) register(username string, sess *session.Session) {
	l.mu.Lock()
	old := l.sessions[username]
	l.sessions[username] = sess
	l.mu.Unlock()
	if old != nil {
		l.log.Infof("evicting previous session for %s", username)
		old.Halt()
	}
}

func (l *Listener) unregister(username string, sess *session.Session) {
	l.mu.Lock()
	if l.sessions[username] == sess {
		delete(l.sessions, username)
	}
	l.mu.Unlock()
}

// PushToUser submits a mail transaction to a connected user's session.
// It reports false when the user has no live session.
func (l *Listener) PushToUser(username string, msg *mail.Message) bool {
	l.mu.Lock()
	sess := l.sessions[username]
	l.mu.Unlock()
	if sess == nil || !sess.Connected() {
		return false
	}
	sess.Submit(func(s *session.Session) {
		if err := wire.WriteMessage(s.Transport(), msg); err != nil {
			l.log.WithError(err).Warnf("push to %s failed", username)
			s.Halt()
		}
	})
	return true
}

// SessionCount returns the number of registered user sessions.
func (l *Listener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Shutdown stops accepting, halts every session and waits for them to end.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	sessions := make([]*session.Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.Unlock()

	if l.ln != nil {
		_ = l.ln.Close()
	}
	for _, s := range sessions {
		s.Halt()
	}
	l.wg.Wait()
	l.log.Info("listener stopped")
}
