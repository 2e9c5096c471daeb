package pigeon

import (
	"strconv"
	"strings"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/metrics"
	"github.com/pigeonpost/go-pigeon/session"
	"github.com/pigeonpost/go-pigeon/wire"
)

// serverHandler reacts to the lines a logged-in peer sends. A MAIL FROM line
// opens a full mail transaction; QUIT ends the session; anything else gets
// the 500 reply.
type serverHandler struct {
	hostName   string
	dispatcher *Dispatcher
	log        log.Logger
	stats      metrics.Collector
	events     *EventHandler
	notifier   Notifier
}

func (h *serverHandler) OnLine(s *session.Session, line string) {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, wire.MailFromPrefix):
		env, err := wire.ReadMessage(s.Transport(), line)
		if err != nil {
			h.log.WithError(err).Warnf("mail transaction from %s failed", s.Username)
			s.Halt()
			return
		}
		h.log.Infof("accepted message from %s for %d recipients", env.SMTPFrom, len(env.SMTPRecipients))
		h.stats.MessageReceived(env.Encrypted)
		h.events.Publish(EventMailAccepted, env)
		h.notifier.OnMailReceived(env)
		h.dispatcher.Accept(env)

	case upper == "QUIT":
		_ = s.Transport().Send(wire.Farewell(h.hostName))
		s.Halt()

	case strings.HasPrefix(line, strconv.Itoa(wire.CodeUnknown)):
		// the peer is reporting an error, nothing to answer
		h.log.Warnf("peer error from %s: %s", s.Username, line)
		h.notifier.ShowDialog(line, "Peer error", SeverityWarning)

	default:
		_ = s.Transport().Send(wire.ReplyUnknown)
	}
}

func (h *serverHandler) OnStop(s *session.Session) {
	h.events.Publish(EventSessionEnd, s.Username)
	h.notifier.OnUserDisconnect(s.Username)
}
