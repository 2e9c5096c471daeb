// Package session runs one cooperative worker per live connection. The worker
// alternates between draining its task inbox and polling the transport for
// protocol lines, so submitted work and inbound traffic are handled on a
// single goroutine without locking in the handlers.
package session

import (
	"sync"
	"time"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/wire"
)

// PollInterval is how long an idle worker sleeps between polls.
const PollInterval = 150 * time.Millisecond

// Handler receives protocol lines and lifecycle events. Both callbacks run on
// the session's own goroutine.
type Handler interface {
	// OnLine is called with each inbound line, delimiter stripped.
	OnLine(s *Session, line string)
	// OnStop is called exactly once, after the loop exits.
	OnStop(s *Session)
}

// Task is a unit of work queued for the session goroutine.
type Task func(s *Session)

// Session owns a Transport and runs its worker loop.
type Session struct {
	// ID is unique for the lifetime of the process
	ID uint64
	// Username is set after a successful login, empty for anonymous peers
	Username string

	transport *wire.Transport
	handler   Handler
	log       log.Logger

	taskGuard sync.Mutex
	tasks     []Task

	stateGuard sync.Mutex
	connected  bool
	started    bool

	done chan struct{}
}

// New builds a session around an already-greeted transport. Call Start to
// begin the worker loop.
func New(id uint64, tr *wire.Transport, h Handler, l log.Logger) *Session {
	return &Session{
		ID:        id,
		transport: tr,
		handler:   h,
		log:       l,
		connected: true,
		done:      make(chan struct{}),
	}
}

// Transport exposes the underlying connection to handlers and tasks.
func (s *Session) Transport() *wire.Transport {
	return s.transport
}

// Connected reports whether the worker loop is still meant to run.
func (s *Session) Connected() bool {
	s.stateGuard.Lock()
	defer s.stateGuard.Unlock()
	return s.connected
}

// Submit queues a task for the worker goroutine. Tasks run in submission
// order, before the next read poll. Tasks submitted after the worker
// stopped never run.
func (s *Session) Submit(task Task) {
	s.taskGuard.Lock()
	defer s.taskGuard.Unlock()
	s.tasks = append(s.tasks, task)
}

func (s *Session) drain() []Task {
	s.taskGuard.Lock()
	defer s.taskGuard.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	snapshot := s.tasks
	s.tasks = nil
	return snapshot
}

// Start launches the worker goroutine. It may be called once.
func (s *Session) Start() {
	s.stateGuard.Lock()
	if s.started || !s.connected {
		s.stateGuard.Unlock()
		return
	}
	s.started = true
	s.stateGuard.Unlock()
	go s.loop()
}

// Halt stops the worker and closes the connection. Safe from any goroutine
// and safe to call more than once. Pending tasks are discarded.
func (s *Session) Halt() {
	s.stateGuard.Lock()
	if !s.connected {
		s.stateGuard.Unlock()
		return
	}
	s.connected = false
	s.stateGuard.Unlock()
	// closing the conn also unblocks a reader stuck in ReadLine
	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Debug("close failed")
	}
}

// Wait blocks until the worker loop has exited and OnStop has returned.
// Waiting on a session that was never started blocks forever.
func (s *Session) Wait() {
	<-s.done
}

// Done returns a channel closed when the worker loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.handler.OnStop(s)

	for s.Connected() {
		for _, task := range s.drain() {
			task(s)
			if !s.Connected() {
				return
			}
		}

		has, err := s.transport.HasData()
		if err != nil {
			s.stop(err)
			return
		}
		if !has {
			time.Sleep(PollInterval)
			continue
		}

		line, err := s.transport.ReadLine()
		if err != nil {
			s.stop(err)
			return
		}
		s.handler.OnLine(s, line)
	}
}

func (s *Session) stop(err error) {
	if err != wire.ErrConnClosed {
		s.log.WithError(err).Warn("session read failed")
	}
	s.Halt()
}
