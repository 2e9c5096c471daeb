package pigeon

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/wire"
)

// Queue store backends.
const (
	QueueStoreFile  = "file"
	QueueStoreRedis = "redis"
)

// Mail store backends.
const (
	MailStoreFile  = "file"
	MailStoreMySQL = "mysql"
)

// DefaultRelayIdentity is the username and password servers present to each
// other when forwarding mail.
const DefaultRelayIdentity = "server"

// AppConfig is the holder of the configuration of the app
type AppConfig struct {
	// ListenInterface is the ip:port the server accepts connections on
	ListenInterface string `json:"listen_interface"`
	// HostName announced in greetings; defaults to the OS hostname
	HostName string `json:"host_name,omitempty"`
	// LocalHosts are extra host names treated as this server
	LocalHosts []string `json:"local_hosts,omitempty"`
	// AllowAnonymous lets unknown users in; the relay identity always works
	AllowAnonymous bool `json:"allow_anonymous,omitempty"`

	AuthFile string `json:"auth_file,omitempty"`

	QueueDir       string `json:"queue_dir,omitempty"`
	QueueStore     string `json:"queue_store,omitempty"`
	RedisInterface string `json:"redis_interface,omitempty"`

	MailDir   string `json:"mail_dir,omitempty"`
	MailStore string `json:"mail_store,omitempty"`
	MysqlDSN  string `json:"mysql_dsn,omitempty"`

	RelayUsername string `json:"relay_username,omitempty"`
	RelayPassword string `json:"relay_password,omitempty"`
	// RelayPort is the port peer servers are expected to listen on
	RelayPort int `json:"relay_port,omitempty"`

	// MetricsInterface, when set, serves prometheus metrics on ip:port
	MetricsInterface string `json:"metrics_interface,omitempty"`

	LogFile  string `json:"log_file,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
	PidFile  string `json:"pid_file,omitempty"`
}

// Load unmarshalls json data into the AppConfig struct, fills in defaults and
// validates. Returns an error if validation failed or something went wrong.
func (c *AppConfig) Load(jsonBytes []byte) error {
	if err := json.Unmarshal(jsonBytes, c); err != nil {
		return fmt.Errorf("could not parse config file: %s", err)
	}
	c.setDefaults()
	return c.Validate()
}

func (c *AppConfig) setDefaults() {
	if c.ListenInterface == "" {
		c.ListenInterface = fmt.Sprintf("0.0.0.0:%d", wire.DefaultPort)
	}
	if c.HostName == "" {
		if h, err := os.Hostname(); err == nil {
			c.HostName = h
		} else {
			c.HostName = "localhost"
		}
	}
	if c.AuthFile == "" {
		c.AuthFile = "auth.dat"
	}
	if c.QueueDir == "" {
		c.QueueDir = "queue"
	}
	if c.QueueStore == "" {
		c.QueueStore = QueueStoreFile
	}
	if c.RedisInterface == "" {
		c.RedisInterface = "127.0.0.1:6379"
	}
	if c.MailDir == "" {
		c.MailDir = "mail"
	}
	if c.MailStore == "" {
		c.MailStore = MailStoreFile
	}
	if c.RelayUsername == "" {
		c.RelayUsername = DefaultRelayIdentity
	}
	if c.RelayPassword == "" {
		c.RelayPassword = DefaultRelayIdentity
	}
	if c.RelayPort == 0 {
		c.RelayPort = wire.DefaultPort
	}
	if c.LogFile == "" {
		c.LogFile = log.OutputStderr.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the parts of the config that would otherwise only fail at
// runtime.
func (c *AppConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenInterface); err != nil {
		return fmt.Errorf("invalid listen_interface %q: %s", c.ListenInterface, err)
	}
	switch c.QueueStore {
	case QueueStoreFile, QueueStoreRedis:
	default:
		return fmt.Errorf("unknown queue_store %q", c.QueueStore)
	}
	switch c.MailStore {
	case MailStoreFile:
	case MailStoreMySQL:
		if c.MysqlDSN == "" {
			return fmt.Errorf("mail_store %q requires mysql_dsn", c.MailStore)
		}
	default:
		return fmt.Errorf("unknown mail_store %q", c.MailStore)
	}
	if c.MetricsInterface != "" {
		if _, _, err := net.SplitHostPort(c.MetricsInterface); err != nil {
			return fmt.Errorf("invalid metrics_interface %q: %s", c.MetricsInterface, err)
		}
	}
	return nil
}

// EmitChangeEvents compares c to oldConfig and publishes an event for each
// difference the daemon can apply without a restart.
func (c *AppConfig) EmitChangeEvents(oldConfig *AppConfig, d *Daemon) {
	d.Events.Publish(EventConfigNewConfig, c)
	if c.PidFile != oldConfig.PidFile {
		d.Events.Publish(EventConfigPidFile, c)
	}
	if c.LogFile != oldConfig.LogFile {
		d.Events.Publish(EventConfigLogFile, c)
	}
	if c.LogLevel != oldConfig.LogLevel {
		d.Events.Publish(EventConfigLogLevel, c)
	}
	if c.AllowAnonymous != oldConfig.AllowAnonymous {
		d.Events.Publish(EventConfigAllowAnonymous, c)
	}
	if !sameStrings(c.LocalHosts, oldConfig.LocalHosts) {
		d.Events.Publish(EventConfigLocalHosts, c)
	}
}

// EmitLogReopenEvents asks the log hooks to re-open their files, eg. after
// logrotate moved them.
func (c *AppConfig) EmitLogReopenEvents(d *Daemon) {
	d.Events.Publish(EventConfigLogReopen, c)
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
