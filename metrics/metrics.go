// Package metrics counts what the server does. The prometheus collector
// exposes the counters over HTTP; the noop collector keeps the hot paths
// free of nil checks when metrics are disabled.
package metrics

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives one call per countable event.
type Collector interface {
	ConnectionOpened()
	ConnectionClosed()
	LoginResult(accepted bool)
	MessageReceived(encrypted bool)
	MessageRouted(route string)
	MessageDelivered(route string)
	MessageDropped(reason string)
	QueueDepth(queue string, depth int)
}

// Route and drop-reason label values.
const (
	RouteLocal    = "local"
	RouteOutbound = "outbound"

	DropMalformed = "malformed"
	DropRelay     = "relay_failed"
	DropNoStore   = "store_failed"
)

// Noop discards every event.
type Noop struct{}

func (Noop) ConnectionOpened()       {}
func (Noop) ConnectionClosed()       {}
func (Noop) LoginResult(bool)        {}
func (Noop) MessageReceived(bool)    {}
func (Noop) MessageRouted(string)    {}
func (Noop) MessageDelivered(string) {}
func (Noop) MessageDropped(string)   {}
func (Noop) QueueDepth(string, int)  {}

// Prometheus registers counters on its own registry and serves them.
type Prometheus struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	logins      *prometheus.CounterVec
	received    *prometheus.CounterVec
	routed      *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	depth       *prometheus.GaugeVec

	server *http.Server
}

// NewPrometheus builds a collector with its own registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		registry: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pigeon_connections",
			Help: "Open client connections.",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pigeon_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pigeon_messages_received_total",
			Help: "Messages accepted over the wire.",
		}, []string{"encrypted"}),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pigeon_messages_routed_total",
			Help: "Recipients routed by queue.",
		}, []string{"route"}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pigeon_messages_delivered_total",
			Help: "Recipients delivered by queue.",
		}, []string{"route"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pigeon_messages_dropped_total",
			Help: "Recipients dropped by reason.",
		}, []string{"reason"}),
		depth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pigeon_queue_depth",
			Help: "Entries waiting in each queue.",
		}, []string{"queue"}),
	}
}

func (p *Prometheus) ConnectionOpened() { p.connections.Inc() }
func (p *Prometheus) ConnectionClosed() { p.connections.Dec() }

func (p *Prometheus) LoginResult(accepted bool) {
	result := "declined"
	if accepted {
		result = "accepted"
	}
	p.logins.WithLabelValues(result).Inc()
}

func (p *Prometheus) MessageReceived(encrypted bool) {
	label := "false"
	if encrypted {
		label = "true"
	}
	p.received.WithLabelValues(label).Inc()
}

func (p *Prometheus) MessageRouted(route string)    { p.routed.WithLabelValues(route).Inc() }
func (p *Prometheus) MessageDelivered(route string) { p.delivered.WithLabelValues(route).Inc() }
func (p *Prometheus) MessageDropped(reason string)  { p.dropped.WithLabelValues(reason).Inc() }

func (p *Prometheus) QueueDepth(queue string, depth int) {
	p.depth.WithLabelValues(queue).Set(float64(depth))
}

// Serve exposes /metrics on the given interface until Shutdown. The listener
// is bound synchronously so bind errors surface to the caller.
func (p *Prometheus) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go p.server.Serve(ln)
	return nil
}

// Shutdown closes the metrics listener.
func (p *Prometheus) Shutdown() {
	if p.server != nil {
		_ = p.server.Close()
	}
}
