// Package logx is a small leveled, structured logger. It writes either a
// human console format or one JSON object per line, selected by LOG_FORMAT.
package logx

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string like "debug" to a Level. Unknown values map to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Fields is a set of structured key/value pairs attached to an entry.
type Fields map[string]interface{}

// Logger writes formatted entries to an output at or above its level.
type Logger struct {
	mu       sync.Mutex
	level    Level
	json     bool
	writer   io.Writer
	exitFunc func(int)
}

// NewLogger creates a logger writing to w.
func NewLogger(w io.Writer, level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:    level,
		json:     jsonFormat,
		writer:   w,
		exitFunc: os.Exit,
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

func (l *Logger) log(level Level, msg string, fields Fields, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	now := time.Now()
	var line []byte
	if l.json {
		obj := map[string]interface{}{
			"time":    now.Format(time.RFC3339),
			"level":   level.String(),
			"message": msg,
		}
		for k, v := range fields {
			obj[k] = v
		}
		if err != nil {
			obj["error"] = err.Error()
		}
		line, _ = json.Marshal(obj)
		line = append(line, '\n')
	} else {
		var b strings.Builder
		b.WriteString(now.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, " %-5s %s", level.String(), msg)
		for _, k := range sortedKeys(fields) {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		if err != nil {
			fmt.Fprintf(&b, " error=%q", err.Error())
		}
		b.WriteByte('\n')
		line = []byte(b.String())
	}

	if _, werr := l.writer.Write(line); werr != nil {
		fmt.Fprintf(os.Stderr, "logx: write failed: %v\n", werr)
	}
}

func sortedKeys(fields Fields) []string {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entry accumulates fields before emitting a message.
type Entry struct {
	logger *Logger
	fields Fields
	err    error
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return (&Entry{logger: l}).WithField(key, value)
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return (&Entry{logger: l}).WithFields(fields)
}

func (l *Logger) WithError(err error) *Entry {
	return &Entry{logger: l, err: err}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	if e.fields == nil {
		e.fields = make(Fields)
	}
	e.fields[key] = value
	return e
}

func (e *Entry) WithFields(fields Fields) *Entry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

func (e *Entry) WithError(err error) *Entry {
	e.err = err
	return e
}

func (e *Entry) Debug(msg string) { e.logger.log(LevelDebug, msg, e.fields, e.err) }
func (e *Entry) Info(msg string)  { e.logger.log(LevelInfo, msg, e.fields, e.err) }
func (e *Entry) Warn(msg string)  { e.logger.log(LevelWarn, msg, e.fields, e.err) }
func (e *Entry) Error(msg string) { e.logger.log(LevelError, msg, e.fields, e.err) }

func (e *Entry) Debugf(format string, args ...interface{}) {
	e.logger.log(LevelDebug, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Infof(format string, args ...interface{}) {
	e.logger.log(LevelInfo, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Warnf(format string, args ...interface{}) {
	e.logger.log(LevelWarn, fmt.Sprintf(format, args...), e.fields, e.err)
}
func (e *Entry) Errorf(format string, args ...interface{}) {
	e.logger.log(LevelError, fmt.Sprintf(format, args...), e.fields, e.err)
}
