package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/metrics"
)

const (
	// TickInterval is how often the processor wakes to drain its queues.
	TickInterval = 250 * time.Millisecond
	// BatchSize caps how many entries each queue yields per tick, so one
	// busy queue cannot starve the other.
	BatchSize = 10
)

// ErrNoSession is returned by a LocalDelivery when the recipient has no live
// session. The entry goes back to the tail and is retried next tick.
var ErrNoSession = errors.New("queue: recipient has no session")

// LocalDelivery hands a message to a local user's live session.
type LocalDelivery interface {
	Deliver(user string, msg *mail.Message) error
}

// RelayFunc forwards msg to the server responsible for host. The queue
// package stays ignorant of how the connection is made.
type RelayFunc func(host string, msg *mail.Message) error

// Config wires a Processor. Store, Local, Sink, Relay and Logger are
// required; a nil Metrics falls back to the noop collector.
type Config struct {
	Store Store
	// Local pushes a message to a connected recipient
	Local LocalDelivery
	// Sink receives the per-message log artifact for every delivery
	Sink  DeliveryLog
	Relay RelayFunc
	// IsLocalHost reports whether a recipient host is this server
	IsLocalHost func(host string) bool
	Metrics     metrics.Collector
	Logger      log.Logger
}

// Processor owns the two mail queues and drains them on a fixed tick.
// Local entries wait for the recipient to be online and are never dropped;
// outbound entries that fail to relay are dropped with a log line.
type Processor struct {
	cfg   Config
	stats metrics.Collector

	mu       sync.Mutex
	incoming []LocalEntry
	outgoing []*mail.Envelope
	dirty    bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewProcessor builds a processor. Call Start to load persisted state and
// begin draining.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Store == nil || cfg.Local == nil || cfg.Sink == nil || cfg.Relay == nil || cfg.Logger == nil {
		return nil, errors.New("queue: incomplete processor config")
	}
	stats := cfg.Metrics
	if stats == nil {
		stats = metrics.Noop{}
	}
	if cfg.IsLocalHost == nil {
		cfg.IsLocalHost = func(string) bool { return false }
	}
	return &Processor{
		cfg:   cfg,
		stats: stats,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

// Start loads the persisted queues and launches the tick loop.
func (p *Processor) Start() error {
	state, err := p.cfg.Store.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.incoming = state.Incoming
	p.outgoing = state.Outgoing
	p.mu.Unlock()
	in, out := state.Depth()
	if in+out > 0 {
		p.cfg.Logger.Infof("restored %d local and %d outbound queue entries", in, out)
	}
	go p.loop()
	return nil
}

// EnqueueLocal queues msg for delivery to a local mailbox.
func (p *Processor) EnqueueLocal(user string, msg *mail.Message) {
	p.mu.Lock()
	p.incoming = append(p.incoming, LocalEntry{User: user, Msg: msg})
	p.dirty = true
	p.mu.Unlock()
	p.stats.MessageRouted(metrics.RouteLocal)
}

// EnqueueOutbound queues env for relay to its remote recipient hosts.
func (p *Processor) EnqueueOutbound(env *mail.Envelope) {
	p.mu.Lock()
	p.outgoing = append(p.outgoing, env)
	p.dirty = true
	p.mu.Unlock()
	p.stats.MessageRouted(metrics.RouteOutbound)
}

// Depth returns how many entries each queue currently holds.
func (p *Processor) Depth() (incoming, outgoing int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.incoming), len(p.outgoing)
}

// Shutdown stops the loop and persists whatever is still queued.
func (p *Processor) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.quit)
		<-p.done
		if err := p.persist(); err != nil {
			p.cfg.Logger.WithError(err).Error("could not persist queues on shutdown")
		}
	})
}

func (p *Processor) loop() {
	defer close(p.done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Processor) tick() {
	locals := p.takeIncoming(BatchSize)
	remotes := p.takeOutgoing(BatchSize)
	for _, e := range locals {
		p.deliverLocal(e)
	}
	for _, env := range remotes {
		p.relayRemote(env)
	}

	p.mu.Lock()
	if len(locals)+len(remotes) > 0 {
		p.dirty = true
	}
	in, out := len(p.incoming), len(p.outgoing)
	dirty := p.dirty
	p.mu.Unlock()
	p.stats.QueueDepth(metrics.RouteLocal, in)
	p.stats.QueueDepth(metrics.RouteOutbound, out)
	if dirty {
		if err := p.persist(); err != nil {
			p.cfg.Logger.WithError(err).Error("could not persist queues")
		}
	}
}

func (p *Processor) takeIncoming(n int) []LocalEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.incoming) {
		n = len(p.incoming)
	}
	batch := append([]LocalEntry{}, p.incoming[:n]...)
	p.incoming = p.incoming[n:]
	return batch
}

func (p *Processor) takeOutgoing(n int) []*mail.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.outgoing) {
		n = len(p.outgoing)
	}
	batch := append([]*mail.Envelope{}, p.outgoing[:n]...)
	p.outgoing = p.outgoing[n:]
	return batch
}

// deliverLocal pushes the entry to the recipient's live session. A recipient
// without a session keeps the entry queued; the sink artifact is only
// written once the push succeeded.
func (p *Processor) deliverLocal(e LocalEntry) {
	err := p.cfg.Local.Deliver(e.User, e.Msg)
	if err == ErrNoSession {
		p.cfg.Logger.Debugf("%s has no session, requeueing", e.User)
		p.requeueLocal(e)
		return
	}
	if err != nil {
		p.cfg.Logger.WithError(err).Warnf("delivery to %s failed, requeueing", e.User)
		p.requeueLocal(e)
		return
	}
	if err := p.cfg.Sink.Deliver(LocalFolder, e.User, e.Msg); err != nil {
		p.cfg.Logger.WithError(err).Error("delivery log write failed for ", e.User)
		p.stats.MessageDropped(metrics.DropNoStore)
	}
	p.stats.MessageDelivered(metrics.RouteLocal)
	p.cfg.Logger.Debugf("delivered message for %s", e.User)
}

func (p *Processor) requeueLocal(e LocalEntry) {
	p.mu.Lock()
	p.incoming = append(p.incoming, e)
	p.mu.Unlock()
}

// relayRemote forwards one envelope: the sink artifact is written for every
// remote recipient, then the message is relayed once per distinct remote
// host. Local hosts were already routed to the incoming queue; a failed
// relay drops the host rather than blocking the queue.
func (p *Processor) relayRemote(env *mail.Envelope) {
	hosts := make([]string, 0, len(env.SMTPRecipients))
	seen := make(map[string]bool)
	for _, addr := range env.SMTPRecipients {
		user, host, ok := mail.SplitUserHost(addr)
		if !ok {
			p.cfg.Logger.Warnf("dropping malformed recipient %q", addr)
			p.stats.MessageDropped(metrics.DropMalformed)
			continue
		}
		if p.cfg.IsLocalHost(host) {
			continue
		}
		if err := p.cfg.Sink.Deliver(host, user, &env.Message); err != nil {
			p.cfg.Logger.WithError(err).Error("delivery log write failed for ", addr)
			p.stats.MessageDropped(metrics.DropNoStore)
		}
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	for _, host := range hosts {
		if err := p.cfg.Relay(host, &env.Message); err != nil {
			p.cfg.Logger.WithError(err).Warnf("relay to %s failed, dropping", host)
			p.stats.MessageDropped(metrics.DropRelay)
			continue
		}
		p.stats.MessageDelivered(metrics.RouteOutbound)
		p.cfg.Logger.Debugf("relayed message to %s", host)
	}
}

func (p *Processor) persist() error {
	p.mu.Lock()
	state := State{
		Incoming: append([]LocalEntry{}, p.incoming...),
		Outgoing: append([]*mail.Envelope{}, p.outgoing...),
	}
	p.dirty = false
	p.mu.Unlock()
	return p.cfg.Store.Save(state)
}
