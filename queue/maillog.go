package queue

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pigeonpost/go-pigeon/mail"
)

// LocalFolder is the sink folder for mail delivered to this server's own
// users; outbound mail is filed under the remote host's name instead.
const LocalFolder = "localServer"

// DeliveryLog is the per-message log sink every delivery is written to.
type DeliveryLog interface {
	// Deliver stores msg in user's folder under host
	Deliver(host, user string, msg *mail.Message) error
}

// deliveryStamp names delivery files so they sort chronologically.
const deliveryStamp = "2006.01.02-15:04:05.000"

// FileDeliveryLog writes each delivered message to
// <root>/<host>/<user>/<timestamp>.txt in the message's canonical text form.
type FileDeliveryLog struct {
	root string
	now  func() time.Time
}

// NewFileDeliveryLog stores mailboxes under root, creating it when needed.
func NewFileDeliveryLog(root string) (*FileDeliveryLog, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, err
	}
	return &FileDeliveryLog{root: root, now: time.Now}, nil
}

func (fl *FileDeliveryLog) Deliver(host, user string, msg *mail.Message) error {
	dir := filepath.Join(fl.root, sanitize(host), sanitize(user))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	name := fl.now().Format(deliveryStamp) + ".txt"
	return os.WriteFile(filepath.Join(dir, name), []byte(msg.String()), 0600)
}

// sanitize keeps mailbox folder names free of path separators.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}
