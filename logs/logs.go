// Package logs implements the leveled, per-subsystem logging backend shared
// by every component of dagchain. It mirrors the small backend that
// github.com/daglabs/btcd/logger built on top of (one Backend, many tagged
// Loggers), generalized so the caller owns the writers instead of always
// writing to stdout plus a rotator.
package logs

import (
	"fmt"
	"sync"
	"time"
)

// Level is a logging severity, ordered from most to least verbose.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRC"
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	case LevelCritical:
		return "CRT"
	default:
		return "OFF"
	}
}

// ParseLevel maps a config string ("trace", "debug", "info", "warn",
// "error", "critical", "off") to a Level, defaulting to LevelInfo for an
// unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	case "off":
		return LevelOff
	default:
		return LevelInfo
	}
}

// Writer receives fully formatted log lines for levels at or above its
// minimum level.
type Writer interface {
	Write(p []byte) (n int, err error)
}

type backendWriter struct {
	w   Writer
	min Level
}

// Backend multiplexes formatted records out to a set of writers, each with
// its own minimum level, and hands out tagged Loggers.
type Backend struct {
	mu      sync.Mutex
	writers []backendWriter
}

// NewBackend constructs a Backend with no writers attached.
func NewBackend() *Backend {
	return &Backend{}
}

// AddWriter attaches a writer that receives every record at level >= min.
func (b *Backend) AddWriter(w Writer, min Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writers = append(b.writers, backendWriter{w: w, min: min})
}

// Logger returns a tagged Logger backed by this Backend.
func (b *Backend) Logger(subsystem string) *Logger {
	return &Logger{backend: b, tag: subsystem, level: LevelInfo}
}

// Logger is a single tagged logging handle. The zero value is not usable;
// construct one via Backend.Logger.
type Logger struct {
	backend *Backend
	tag     string
	level   Level
}

// SetLevel changes the minimum level this Logger itself will emit,
// independent of each writer's own floor.
func (l *Logger) SetLevel(level Level) { l.level = level }

func (l *Logger) write(level Level, msg string) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().UTC().Format("2006-01-02 15:04:05.000"), level, l.tag, msg)
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	for _, w := range l.backend.writers {
		if level >= w.min {
			_, _ = w.w.Write([]byte(line))
		}
	}
}

func (l *Logger) Tracef(format string, args ...interface{})    { l.write(LevelTrace, fmt.Sprintf(format, args...)) }
func (l *Logger) Debugf(format string, args ...interface{})    { l.write(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})     { l.write(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})     { l.write(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{})    { l.write(LevelError, fmt.Sprintf(format, args...)) }
func (l *Logger) Criticalf(format string, args ...interface{}) { l.write(LevelCritical, fmt.Sprintf(format, args...)) }
