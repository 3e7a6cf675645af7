// Package obslog is a small leveled logging wrapper over the standard
// library's log package. The teacher repo never imports a structured
// logging library (no zerolog/zap/logrus anywhere in its tree), so this
// stays on stdlib log rather than introducing an ambient dependency the
// teacher's own code never reaches for.
package obslog

import (
	"encoding/json"
	"log"
	"os"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger emits structured JSON log lines tagged with a service and
// monitor name, per the specification's "structured JSON logs with
// service, monitor, block range, and error kind" requirement.
type Logger struct {
	service string
	monitor string
	level   Level
	std     *log.Logger
}

// New creates a Logger for the given service at the given minimum level.
func New(service, levelName string) *Logger {
	return &Logger{
		service: service,
		level:   parseLevel(levelName),
		std:     log.New(os.Stderr, "", 0),
	}
}

func parseLevel(name string) Level {
	switch name {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a copy of the Logger scoped to a monitor name.
func (l *Logger) With(monitor string) *Logger {
	cp := *l
	cp.monitor = monitor
	return &cp
}

type entry struct {
	Level   string         `json:"level"`
	Service string         `json:"service"`
	Monitor string         `json:"monitor,omitempty"`
	Msg     string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}
	e := entry{Level: level.String(), Service: l.service, Monitor: l.monitor, Msg: msg, Fields: fields}
	b, err := json.Marshal(e)
	if err != nil {
		l.std.Printf("%s %s: %s (log marshal failed: %v)", level, l.service, msg, err)
		return
	}
	l.std.Println(string(b))
}

func (l *Logger) Debugf(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Infof(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warnf(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Errorf(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }
