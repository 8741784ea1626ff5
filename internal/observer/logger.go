// Package observer implements the C7 observer contracts (Log, Metrics)
// together with their concrete sinks: a rotated structured-log writer (C9)
// and a Prometheus-backed metrics collector served over HTTP (C10).
package observer

import (
	"fmt"
	"os"
	"strings"

	kitlog "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Action classifies a completed request for the structured log line.
type Action string

const (
	ActionCached  Action = "CACHED"
	ActionAllowed Action = "ALLOWED"
	ActionBlocked Action = "BLOCKED"
)

// Pairs is a small key/value bag attached to internal log lines, mirroring
// the teacher project's own log.Pairs convention.
type Pairs map[string]interface{}

// RequestEvent is the one structured line every connection handler emits
// exactly once, per spec.md §4.7.
type RequestEvent struct {
	ClientAddr   string // "ip:port", or "unknown" if unavailable
	Host         string
	Port         int
	RequestLine  string
	Action       Action
	StatusCode   int
	BytesWritten int
}

// Logger is the C7 Log contract: a per-request structured event sink plus
// leveled internal diagnostics, safe for concurrent invocation.
type Logger interface {
	LogRequest(ev RequestEvent)
	Debug(msg string, fields Pairs)
	Info(msg string, fields Pairs)
	Warn(msg string, fields Pairs)
	Error(msg string, fields Pairs)
}

// fileLogger is the concrete C9 implementation: a go-kit leveled logger
// writing logfmt lines, optionally through a size-and-count-bounded
// rotating file.
type fileLogger struct {
	base   kitlog.Logger
	rotate *lumberjack.Logger // nil when logging to stderr
}

// rotateMaxSizeMB and rotateMaxBackups implement spec.md §4.7's "rotates
// at ~5 MiB with three backups".
const (
	rotateMaxSizeMB  = 5
	rotateMaxBackups = 3
)

// NewFileLogger returns a Logger filtered at minLevel ("DEBUG", "INFO",
// "WARN", or "ERROR"; unrecognized values fall back to "INFO"). If path
// is empty, output goes to stderr unrotated (matching the teacher's own
// "empty LogFile means console" convention).
func NewFileLogger(path string, minLevel string) Logger {
	var rotate *lumberjack.Logger
	var base kitlog.Logger

	if path == "" {
		base = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	} else {
		rotate = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    rotateMaxSizeMB,
			MaxBackups: rotateMaxBackups,
		}
		base = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(rotate))
	}

	base = level.NewFilter(base, levelOption(minLevel))

	return &fileLogger{base: base, rotate: rotate}
}

// levelOption maps the configured logging.level string onto a go-kit
// level.Option, defaulting to level.AllowInfo() the same way
// config.NewDefault defaults to "INFO".
func levelOption(minLevel string) level.Option {
	switch strings.ToUpper(strings.TrimSpace(minLevel)) {
	case "DEBUG":
		return level.AllowDebug()
	case "WARN", "WARNING":
		return level.AllowWarn()
	case "ERROR":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

func (l *fileLogger) logAt(wrap func(kitlog.Logger) kitlog.Logger, msg string, fields Pairs) {
	kvs := make([]interface{}, 0, 2+2*len(fields))
	kvs = append(kvs, "msg", msg)
	for k, v := range fields {
		kvs = append(kvs, k, v)
	}
	wrap(l.base).Log(kvs...)
}

func (l *fileLogger) Debug(msg string, fields Pairs) { l.logAt(level.Debug, msg, fields) }
func (l *fileLogger) Info(msg string, fields Pairs)  { l.logAt(level.Info, msg, fields) }
func (l *fileLogger) Warn(msg string, fields Pairs)  { l.logAt(level.Warn, msg, fields) }
func (l *fileLogger) Error(msg string, fields Pairs) { l.logAt(level.Error, msg, fields) }

// LogRequest emits the single required line for a completed connection.
// Blocked events log at warning level; everything else is informational,
// per spec.md §4.7.
func (l *fileLogger) LogRequest(ev RequestEvent) {
	line := fmt.Sprintf("%s | %s:%d | %q | %s | %d | %d",
		ev.ClientAddr, ev.Host, ev.Port, ev.RequestLine, ev.Action, ev.StatusCode, ev.BytesWritten)

	fields := Pairs{
		"client":  ev.ClientAddr,
		"host":    ev.Host,
		"port":    ev.Port,
		"action":  string(ev.Action),
		"status":  ev.StatusCode,
		"bytes":   ev.BytesWritten,
		"request": ev.RequestLine,
	}

	if ev.Action == ActionBlocked {
		l.logAt(level.Warn, line, fields)
		return
	}
	l.logAt(level.Info, line, fields)
}
