package pigeon

import (
	"net"
	"os"
	"strings"
	"sync"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/metrics"
	"github.com/pigeonpost/go-pigeon/queue"
)

// Dispatcher routes an accepted envelope to the queues: each recipient on a
// local host goes to the incoming queue, and the envelope goes to the
// outgoing queue once if any recipient is remote. Malformed recipients are
// logged and skipped.
type Dispatcher struct {
	queue *queue.Processor
	log   log.Logger
	stats metrics.Collector

	mu         sync.RWMutex
	localHosts map[string]bool
}

// NewDispatcher builds the local host set from the configured host name, the
// OS hostname, the loopback names and every configured alias.
func NewDispatcher(q *queue.Processor, hostName string, aliases []string, l log.Logger, stats metrics.Collector) *Dispatcher {
	d := &Dispatcher{
		queue: q,
		log:   l,
		stats: stats,
	}
	d.SetLocalHosts(hostName, aliases)
	return d
}

// SetLocalHosts rebuilds the local host set. Safe while dispatching.
func (d *Dispatcher) SetLocalHosts(hostName string, aliases []string) {
	hosts := map[string]bool{
		"localhost": true,
		"127.0.0.1": true,
		"::1":       true,
	}
	add := func(h string) {
		if h != "" {
			hosts[strings.ToLower(h)] = true
		}
	}
	add(hostName)
	if h, err := os.Hostname(); err == nil {
		add(h)
	}
	if addrs, err := net.InterfaceAddrs(); err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				add(ipnet.IP.String())
			}
		}
	}
	for _, h := range aliases {
		add(h)
	}

	d.mu.Lock()
	d.localHosts = hosts
	d.mu.Unlock()
}

// IsLocalHost reports whether host names this server.
func (d *Dispatcher) IsLocalHost(host string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localHosts[strings.ToLower(host)]
}

// Accept routes one envelope. Each local user receives the message once even
// when listed several times; the envelope is queued outbound at most once.
// Empty recipients are skipped outright, without the malformed warning.
func (d *Dispatcher) Accept(env *mail.Envelope) {
	seenUsers := make(map[string]bool)
	outboundQueued := false
	for _, addr := range env.SMTPRecipients {
		if addr == "" {
			continue
		}
		user, host, ok := mail.SplitUserHost(addr)
		if !ok {
			d.log.Warnf("skipping malformed recipient %q", addr)
			d.stats.MessageDropped(metrics.DropMalformed)
			continue
		}
		if d.IsLocalHost(host) {
			if seenUsers[user] {
				continue
			}
			seenUsers[user] = true
			d.queue.EnqueueLocal(user, env.Message.Copy())
			continue
		}
		if !outboundQueued {
			outboundQueued = true
			d.queue.EnqueueOutbound(env)
		}
	}
}
