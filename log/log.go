package log

import (
	"io"
	"net"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is an alias so that callers don't need to import logrus directly.
type Level = logrus.Level

const (
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

type Logger interface {
	logrus.FieldLogger
	WithConn(conn net.Conn) *logrus.Entry
	Reopen() error
	GetLogDest() string
	SetLevel(level string)
	GetLevel() string
	IsDebug() bool
	AddHook(h logrus.Hook)
}

// HookedLogger is a logrus logger wrapper that contains an instance of our
// LoggerHook. It implements the Logger interface.
type HookedLogger struct {
	// satisfy the logrus.FieldLogger interface
	*logrus.Logger

	h LoggerHook
}

type loggerKey struct {
	dest, level string
}

type loggerCache map[loggerKey]Logger

// loggers store the cached loggers created by GetLogger
var loggers struct {
	cache loggerCache
	// mutex guards the cache
	sync.Mutex
}

// GetLogger returns a struct that implements Logger (i.e HookedLogger) with a custom hook.
// It may be new or already created, (ie. singleton factory pattern)
// dest can be a path to a file, or the following string values:
// "off" - disable any log output
// "stdout" - write to standard output
// "stderr" - write to standard error
// If the file doesn't exist, a new file will be created. Otherwise it will be appended.
// Each Logger returned is cached on dest+level, subsequent calls will get the cached
// logger if the arguments match.
func GetLogger(dest string, level string) (Logger, error) {
	loggers.Lock()
	defer loggers.Unlock()
	key := loggerKey{dest, level}
	if loggers.cache == nil {
		loggers.cache = make(loggerCache, 1)
	} else {
		if l, ok := loggers.cache[key]; ok {
			return l, nil
		}
	}
	logger := logrus.New()
	// we'll use the hook to output instead
	logger.Out = io.Discard

	l := &HookedLogger{}
	l.Logger = logger
	l.SetLevel(level)

	// cache it
	loggers.cache[key] = l

	// setup the hook
	if h, err := NewLogrusHook(dest); err != nil {
		// revert back to stderr
		logger.Out = os.Stderr
		return l, err
	} else {
		logger.Hooks.Add(h)
		l.h = h
	}

	return l, nil
}

// AddHook adds a new logrus hook
func (l *HookedLogger) AddHook(h logrus.Hook) {
	l.Logger.Hooks.Add(h)
}

func (l *HookedLogger) IsDebug() bool {
	return l.GetLevel() == logrus.DebugLevel.String()
}

// SetLevel sets a log level, one of the logrus levels
func (l *HookedLogger) SetLevel(level string) {
	var logLevel logrus.Level
	var err error
	if logLevel, err = logrus.ParseLevel(level); err != nil {
		return
	}
	l.Logger.SetLevel(logLevel)
}

// GetLevel gets the current log level
func (l *HookedLogger) GetLevel() string {
	return l.Logger.GetLevel().String()
}

// Reopen closes the log file and re-opens it
func (l *HookedLogger) Reopen() error {
	if l.h == nil {
		return nil
	}
	return l.h.Reopen()
}

// GetLogDest gets the file name or output destination string
func (l *HookedLogger) GetLogDest() string {
	if l.h == nil {
		return ""
	}
	return l.h.GetLogDest()
}

// WithConn extends logrus to be able to log with a net.Conn
func (l *HookedLogger) WithConn(conn net.Conn) *logrus.Entry {
	var addr = "unknown"

	if conn != nil {
		addr = conn.RemoteAddr().String()
	}
	return l.WithField("addr", addr)
}
