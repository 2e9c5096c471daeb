package queue

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/metrics"
)

type memStore struct {
	mu    sync.Mutex
	saved State
	saves int
}

func (m *memStore) Save(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = state
	m.saves++
	return nil
}

func (m *memStore) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved, nil
}

// memLocal pretends to be the session registry: pushes succeed only for
// users marked online.
type memLocal struct {
	mu     sync.Mutex
	online map[string]bool
	pushed []LocalEntry
}

func (m *memLocal) setOnline(user string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == nil {
		m.online = make(map[string]bool)
	}
	m.online[user] = online
}

func (m *memLocal) Deliver(user string, msg *mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online[user] {
		return ErrNoSession
	}
	m.pushed = append(m.pushed, LocalEntry{User: user, Msg: msg})
	return nil
}

func (m *memLocal) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pushed)
}

type memSink struct {
	mu      sync.Mutex
	entries []string // "host/user"
}

func (m *memSink) Deliver(host, user string, msg *mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, host+"/"+user)
	return nil
}

func (m *memSink) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.entries...)
}

type relayRecorder struct {
	mu    sync.Mutex
	hosts []string
	err   error
}

func (r *relayRecorder) relay(host string, msg *mail.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.hosts = append(r.hosts, host)
	return nil
}

func (r *relayRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.hosts...)
}

func startProcessor(t *testing.T, store Store, local LocalDelivery, sink DeliveryLog, relay RelayFunc, isLocal func(string) bool) *Processor {
	t.Helper()
	p, err := NewProcessor(Config{
		Store:       store,
		Local:       local,
		Sink:        sink,
		Relay:       relay,
		IsLocalHost: isLocal,
		Logger:      testLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Shutdown)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func noRelay(string, *mail.Message) error { return nil }

func TestProcessorDeliversToOnlineUser(t *testing.T) {
	local := &memLocal{}
	local.setOnline("bob", true)
	sink := &memSink{}
	p := startProcessor(t, &memStore{}, local, sink, noRelay, nil)

	msg := mail.NewMessage([]string{"bob@box.test"}, "alice@box.test", "Hi", "hello\n")
	p.EnqueueLocal("bob", msg)

	waitFor(t, "local delivery", func() bool { return local.count() == 1 })
	waitFor(t, "sink artifact", func() bool { return len(sink.snapshot()) == 1 })
	if got := sink.snapshot()[0]; got != LocalFolder+"/bob" {
		t.Error("sink path:", got)
	}
	if in, _ := p.Depth(); in != 0 {
		t.Error("incoming depth after delivery:", in)
	}
}

func TestProcessorHoldsMailForOfflineUser(t *testing.T) {
	local := &memLocal{}
	sink := &memSink{}
	p := startProcessor(t, &memStore{}, local, sink, noRelay, nil)

	p.EnqueueLocal("carol", mail.NewMessage([]string{"carol@box.test"}, "a@b.test", "Hi", "x\n"))

	// several ticks pass with carol offline; the entry must survive
	time.Sleep(3 * TickInterval)
	if local.count() != 0 {
		t.Fatal("pushed to an offline user")
	}
	if len(sink.snapshot()) != 0 {
		t.Fatal("sink written before delivery")
	}
	if in, _ := p.Depth(); in != 1 {
		t.Fatal("entry was dropped, depth:", in)
	}

	// carol comes online, the next tick delivers
	local.setOnline("carol", true)
	waitFor(t, "deferred delivery", func() bool { return local.count() == 1 })
}

func TestProcessorRelaysOncePerHost(t *testing.T) {
	rec := &relayRecorder{}
	sink := &memSink{}
	isLocal := func(host string) bool { return host == "box.test" }
	p := startProcessor(t, &memStore{}, &memLocal{}, sink, rec.relay, isLocal)

	msg := mail.NewMessage([]string{"x@remote.test", "y@remote.test"}, "a@box.test", "Hi", "x\n")
	p.EnqueueOutbound(&mail.Envelope{
		Message:        *msg,
		SMTPFrom:       "a@box.test",
		SMTPRecipients: []string{"x@remote.test", "y@remote.test", "local@box.test", "noathost"},
	})

	waitFor(t, "relay", func() bool { return len(rec.snapshot()) > 0 })
	time.Sleep(2 * TickInterval)
	hosts := rec.snapshot()
	if len(hosts) != 1 || hosts[0] != "remote.test" {
		t.Error("expected one relay to remote.test, got", hosts)
	}
	// the sink artifact is written per remote recipient, before the relay
	entries := sink.snapshot()
	if len(entries) != 2 {
		t.Fatal("sink entries:", entries)
	}
	if entries[0] != "remote.test/x" || entries[1] != "remote.test/y" {
		t.Error("sink paths:", entries)
	}
}

func TestProcessorDropsFailedRelay(t *testing.T) {
	rec := &relayRecorder{err: errors.New("connection refused")}
	p := startProcessor(t, &memStore{}, &memLocal{}, &memSink{}, rec.relay, nil)

	msg := mail.NewMessage([]string{"x@remote.test"}, "a@box.test", "Hi", "x\n")
	p.EnqueueOutbound(&mail.Envelope{
		Message:        *msg,
		SMTPFrom:       "a@box.test",
		SMTPRecipients: []string{"x@remote.test"},
	})

	waitFor(t, "drop", func() bool {
		_, out := p.Depth()
		return out == 0
	})
	time.Sleep(2 * TickInterval)
	if len(rec.snapshot()) != 0 {
		t.Error("failed relay should not be recorded as success")
	}
}

func TestProcessorBatchCap(t *testing.T) {
	local := &memLocal{}
	local.setOnline("bob", true)
	p := startProcessor(t, &memStore{}, local, &memSink{}, noRelay, nil)

	for i := 0; i < BatchSize+5; i++ {
		p.EnqueueLocal("bob", mail.NewMessage([]string{"bob@box.test"}, "a@b.test", "Hi", "x\n"))
	}
	// a single tick may only drain BatchSize entries
	waitFor(t, "first batch", func() bool { return local.count() >= 1 })
	if n := local.count(); n > BatchSize {
		t.Error("tick drained more than the batch cap:", n)
	}
	waitFor(t, "remainder", func() bool { return local.count() == BatchSize+5 })
}

type failingSink struct{}

func (failingSink) Deliver(string, string, *mail.Message) error {
	return errors.New("disk full")
}

type statsRecorder struct {
	metrics.Noop
	mu      sync.Mutex
	dropped []string
}

func (r *statsRecorder) MessageDropped(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, reason)
}

func (r *statsRecorder) droppedCount(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.dropped {
		if got == reason {
			n++
		}
	}
	return n
}

func TestProcessorSinkFailureDoesNotBlockDelivery(t *testing.T) {
	local := &memLocal{}
	local.setOnline("bob", true)
	rec := &statsRecorder{}
	p, err := NewProcessor(Config{
		Store:   &memStore{},
		Local:   local,
		Sink:    failingSink{},
		Relay:   noRelay,
		Metrics: rec,
		Logger:  testLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Shutdown)

	p.EnqueueLocal("bob", mail.NewMessage([]string{"bob@box.test"}, "a@b.test", "Hi", "x\n"))

	waitFor(t, "delivery despite sink failure", func() bool { return local.count() == 1 })
	if in, _ := p.Depth(); in != 0 {
		t.Error("entry requeued on sink failure, depth:", in)
	}
	waitFor(t, "failed store counter", func() bool {
		return rec.droppedCount(metrics.DropNoStore) == 1
	})
}

func TestProcessorShutdownPersists(t *testing.T) {
	store := &memStore{}
	p := startProcessor(t, store, &memLocal{}, &memSink{}, noRelay, nil)

	// recipient stays offline, so the entry is still queued at shutdown
	p.EnqueueLocal("bob", mail.NewMessage([]string{"bob@box.test"}, "a@b.test", "Hi", "x\n"))
	p.Shutdown()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.saved.Incoming) != 1 {
		t.Fatal("queued entry was not persisted, state:", store.saved)
	}
	if store.saved.Incoming[0].User != "bob" {
		t.Error("persisted wrong user:", store.saved.Incoming[0].User)
	}
}

func TestProcessorRestoresPersistedState(t *testing.T) {
	store := &memStore{saved: State{
		Incoming: []LocalEntry{{
			User: "bob",
			Msg:  mail.NewMessage([]string{"bob@box.test"}, "a@b.test", "Hi", "x\n"),
		}},
	}}
	local := &memLocal{}
	local.setOnline("bob", true)
	startProcessor(t, store, local, &memSink{}, noRelay, nil)
	waitFor(t, "restored delivery", func() bool { return local.count() == 1 })
}

func TestFileDeliveryLogLayout(t *testing.T) {
	root := t.TempDir()
	fl, err := NewFileDeliveryLog(root)
	if err != nil {
		t.Fatal(err)
	}
	fl.now = func() time.Time {
		return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	}
	msg := mail.NewMessage([]string{"bob@box.test"}, "alice@box.test", "Hi", "hello\n")
	msg.Date = "2026-08-24 10:30:00"
	if err := fl.Deliver(LocalFolder, "bob", msg); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(root, LocalFolder, "bob", "2026.08.24-10:30:00.000.txt")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(b)
	if !strings.Contains(text, "From: alice@box.test") {
		t.Error("missing sender in stored text:\n", text)
	}
	if !strings.HasSuffix(text, "hello\n\n") {
		t.Error("missing body in stored text:\n", text)
	}
}
