// Package pigeon ties the pieces into a daemon: the listener that logs peers
// in, the dispatcher that routes accepted mail, the queue processor that
// delivers and relays it, and the stores underneath them.
package pigeon

import (
	"errors"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/pigeonpost/go-pigeon/auth"
	"github.com/pigeonpost/go-pigeon/client"
	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
	"github.com/pigeonpost/go-pigeon/metrics"
	"github.com/pigeonpost/go-pigeon/queue"
)

// Daemon is one running server instance.
type Daemon struct {
	Config   *AppConfig
	Logger   log.Logger
	Events   *EventHandler
	Notifier Notifier

	authStore  *auth.Store
	stats      metrics.Collector
	prom       *metrics.Prometheus
	processor  *queue.Processor
	dispatcher *Dispatcher
	listener   *Listener
	queueStore interface{ Close() error }
	mailStore  interface{ Close() error }

	mu      sync.Mutex
	started bool
}

// New builds a daemon from a validated config. notifier may be nil.
func New(cfg *AppConfig, notifier Notifier) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("pigeon: nil config")
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger, err := log.GetLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		Config:   cfg,
		Logger:   logger,
		Events:   &EventHandler{},
		Notifier: notifier,
	}, nil
}

// ReadConfigFile loads and validates a JSON config file.
func ReadConfigFile(path string) (*AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &AppConfig{}
	if err := cfg.Load(b); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Start brings every component up. On any failure the components already
// started are torn down again.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}
	if err := auth.SelfCheck(); err != nil {
		return err
	}
	cfg := d.Config

	d.authStore = auth.NewStore(cfg.AuthFile)
	if err := d.authStore.Load(); err != nil {
		return err
	}
	d.Logger.Infof("loaded %d users from %s", d.authStore.Len(), cfg.AuthFile)

	d.stats = metrics.Noop{}
	if cfg.MetricsInterface != "" {
		prom := metrics.NewPrometheus()
		if err := prom.Serve(cfg.MetricsInterface); err != nil {
			return err
		}
		d.prom = prom
		d.stats = prom
		d.Logger.Infof("metrics on http://%s/metrics", cfg.MetricsInterface)
	}

	queueStore, err := d.openQueueStore()
	if err != nil {
		d.teardown()
		return err
	}
	delivery, err := d.openMailStore()
	if err != nil {
		d.teardown()
		return err
	}

	d.processor, err = queue.NewProcessor(queue.Config{
		Store: queueStore,
		Local: &sessionPush{daemon: d},
		Sink:  delivery,
		Relay: d.relay,
		IsLocalHost: func(host string) bool {
			return d.dispatcher.IsLocalHost(host)
		},
		Metrics: d.stats,
		Logger:  d.Logger,
	})
	if err != nil {
		d.teardown()
		return err
	}
	d.dispatcher = NewDispatcher(d.processor, cfg.HostName, cfg.LocalHosts, d.Logger, d.stats)

	handler := &serverHandler{
		hostName:   cfg.HostName,
		dispatcher: d.dispatcher,
		log:        d.Logger,
		stats:      d.stats,
		events:     d.Events,
		notifier:   d.Notifier,
	}
	d.listener = NewListener(cfg, d.authStore, handler, d.Logger, d.stats, d.Events, d.Notifier)

	if err := d.processor.Start(); err != nil {
		d.teardown()
		return err
	}
	if err := d.listener.Start(); err != nil {
		d.processor.Shutdown()
		d.teardown()
		return err
	}

	d.subscribeEvents()
	d.started = true
	d.Logger.Infof("pigeon %s up as %s", Version, cfg.HostName)
	return nil
}

func (d *Daemon) openQueueStore() (queue.Store, error) {
	switch d.Config.QueueStore {
	case QueueStoreRedis:
		rs := queue.NewRedisStore(d.Config.RedisInterface, d.Logger)
		d.queueStore = rs
		return rs, nil
	default:
		return queue.NewFileStore(d.Config.QueueDir, d.Logger)
	}
}

func (d *Daemon) openMailStore() (queue.DeliveryLog, error) {
	switch d.Config.MailStore {
	case MailStoreMySQL:
		sl, err := queue.NewSQLDeliveryLog(d.Config.MysqlDSN)
		if err != nil {
			return nil, err
		}
		d.mailStore = sl
		return sl, nil
	default:
		return queue.NewFileDeliveryLog(d.Config.MailDir)
	}
}

// relay forwards a message to the server responsible for host using the
// configured relay identity.
func (d *Daemon) relay(host string, msg *mail.Message) error {
	addr := net.JoinHostPort(host, strconv.Itoa(d.Config.RelayPort))
	return client.Relay(addr, d.Config.RelayUsername, d.Config.RelayPassword, msg, d.Logger)
}

func (d *Daemon) subscribeEvents() {
	_ = d.Events.Subscribe(EventConfigLogReopen, func(*AppConfig) {
		if err := d.Logger.Reopen(); err != nil {
			d.Logger.WithError(err).Error("log reopen failed")
		}
	})
	_ = d.Events.Subscribe(EventConfigLogLevel, func(c *AppConfig) {
		d.Logger.SetLevel(c.LogLevel)
		d.Logger.Infof("log level changed to %s", c.LogLevel)
	})
	_ = d.Events.Subscribe(EventConfigAllowAnonymous, func(c *AppConfig) {
		d.listener.SetAllowAnonymous(c.AllowAnonymous)
	})
	_ = d.Events.Subscribe(EventConfigLocalHosts, func(c *AppConfig) {
		d.dispatcher.SetLocalHosts(c.HostName, c.LocalHosts)
	})
	_ = d.Events.Subscribe(EventAuthReload, func(*AppConfig) {
		if err := d.authStore.Load(); err != nil {
			d.Logger.WithError(err).Error("credential reload failed")
		} else {
			d.Logger.Infof("reloaded %d users", d.authStore.Len())
		}
	})
}

// ReloadConfig applies a freshly-read config by publishing change events for
// the fields that moved. Fields that need a restart are left alone.
func (d *Daemon) ReloadConfig(newConfig *AppConfig) error {
	newConfig.setDefaults()
	if err := newConfig.Validate(); err != nil {
		return err
	}
	old := d.Config
	d.Config = newConfig
	newConfig.EmitChangeEvents(old, d)
	d.Logger.Info("config reloaded")
	return nil
}

// ReloadLogs re-opens the log files, for logrotate.
func (d *Daemon) ReloadLogs() {
	d.Config.EmitLogReopenEvents(d)
}

// AddUser creates a credential and persists the store.
func (d *Daemon) AddUser(username, password string) error {
	store := d.authStore
	if store == nil {
		store = auth.NewStore(d.Config.AuthFile)
		if err := store.Load(); err != nil {
			return err
		}
	}
	if err := store.AddUser(username, password); err != nil {
		return err
	}
	if err := store.Save(); err != nil {
		return err
	}
	d.Events.Publish(EventAuthReload, d.Config)
	return nil
}

// Listener exposes the running listener, mainly so tests can learn the
// bound address.
func (d *Daemon) Listener() *Listener {
	return d.listener
}

// Shutdown stops the listener, drains nothing further and persists the
// queues.
func (d *Daemon) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.started = false
	d.listener.Shutdown()
	d.processor.Shutdown()
	d.teardown()
	d.Logger.Info("shutdown complete")
}

func (d *Daemon) teardown() {
	if d.prom != nil {
		d.prom.Shutdown()
		d.prom = nil
	}
	if d.queueStore != nil {
		_ = d.queueStore.Close()
		d.queueStore = nil
	}
	if d.mailStore != nil {
		_ = d.mailStore.Close()
		d.mailStore = nil
	}
}

// sessionPush delivers local mail by pushing it down the recipient's live
// session. Offline recipients keep their mail queued.
type sessionPush struct {
	daemon *Daemon
}

func (sp *sessionPush) Deliver(user string, msg *mail.Message) error {
	l := sp.daemon.listener
	if l == nil || !l.PushToUser(user, msg) {
		return queue.ErrNoSession
	}
	sp.daemon.Logger.Debugf("pushed message to online user %s", user)
	return nil
}
