package pigeon

import (
	"github.com/pigeonpost/go-pigeon/mail"
)

// Severity grades a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// Notifier receives user-facing events. A terminal frontend prints them, a
// test collects them; the daemon defaults to the nop implementation.
type Notifier interface {
	// ShowDialog surfaces a one-off message to the operator
	ShowDialog(text, title string, severity Severity)
	// OnMailReceived fires for every message accepted off the wire
	OnMailReceived(env *mail.Envelope)
	// OnUserLogin fires after a successful login
	OnUserLogin(username string)
	// OnUserDisconnect fires when a user's session ends
	OnUserDisconnect(username string)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) ShowDialog(string, string, Severity) {}
func (NopNotifier) OnMailReceived(*mail.Envelope)       {}
func (NopNotifier) OnUserLogin(string)                  {}
func (NopNotifier) OnUserDisconnect(string)             {}
