package pigeon

import (
	evbus "github.com/asaskevich/EventBus"
)

type Event int

const (
	// when a new config was loaded
	EventConfigNewConfig Event = iota
	// when local_hosts changed
	EventConfigLocalHosts
	// when pid_file changed
	EventConfigPidFile
	// when log_file changed
	EventConfigLogFile
	// when it's time to reload the main log file
	EventConfigLogReopen
	// when log level changed
	EventConfigLogLevel
	// when allow_anonymous changed
	EventConfigAllowAnonymous
	// when the credential file should be reloaded
	EventAuthReload
	// when a user logged in
	EventSessionLogin
	// when a user's session ended
	EventSessionEnd
	// when a message was accepted off the wire
	EventMailAccepted
)

var eventList = [...]string{
	"config_change:new_config",
	"config_change:local_hosts",
	"config_change:pid_file",
	"config_change:log_file",
	"config_change:reopen_log_file",
	"config_change:log_level",
	"config_change:allow_anonymous",
	"auth:reload",
	"session:login",
	"session:end",
	"mail:accepted",
}

func (e Event) String() string {
	return eventList[e]
}

type EventHandler struct {
	evbus.Bus
}

func (h *EventHandler) Subscribe(topic Event, fn interface{}) error {
	if h.Bus == nil {
		h.Bus = evbus.New()
	}
	return h.Bus.Subscribe(topic.String(), fn)
}

func (h *EventHandler) Publish(topic Event, args ...interface{}) {
	if h.Bus == nil {
		h.Bus = evbus.New()
	}
	h.Bus.Publish(topic.String(), args...)
}

func (h *EventHandler) Unsubscribe(topic Event, handler interface{}) error {
	if h.Bus == nil {
		h.Bus = evbus.New()
	}
	return h.Bus.Unsubscribe(topic.String(), handler)
}
