// Package logger is the varbus structured logging facade over log/slog.
//
// Both the daemon and the client tooling log through this package. The
// level and format are process-global and can be changed at runtime (the
// daemon rewires them on config reload), so the handler is rebuilt behind
// a lock while the hot logging path only reads atomics.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level is the minimum severity the logger emits.
type Level int32

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

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config selects output destination, level, and format.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text or json
	Output string // stdout, stderr, or a file path
}

var (
	level atomic.Int32

	mu       sync.RWMutex
	out      io.Writer = os.Stderr
	format             = "text"
	useColor           = isTerminal(os.Stderr.Fd())
	active   *slog.Logger
)

func init() {
	level.Store(int32(LevelInfo))
	rebuild()
}

// rebuild swaps in a handler matching the current settings. Callers hold mu.
func rebuild() {
	lv := new(slog.LevelVar)
	lv.Set(Level(level.Load()).slog())
	opts := &slog.HandlerOptions{Level: lv}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = newTextHandler(out, opts, useColor)
	}
	active = slog.New(h)
}

// Init applies a full configuration. Output may be "stdout", "stderr",
// or a file path (opened append-only, colors disabled).
func Init(cfg Config) error {
	mu.Lock()
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
		useColor = isTerminal(os.Stderr.Fd())
	case "stdout":
		out = os.Stdout
		useColor = isTerminal(os.Stdout.Fd())
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			mu.Unlock()
			return fmt.Errorf("open log file %q: %w", cfg.Output, err)
		}
		out = f
		useColor = false
	}
	mu.Unlock()

	SetLevel(cfg.Level)
	SetFormat(cfg.Format)
	return nil
}

// InitWithWriter points the logger at an arbitrary writer. Test support.
func InitWithWriter(w io.Writer, levelName, formatName string) {
	mu.Lock()
	out = w
	useColor = false
	mu.Unlock()
	SetLevel(levelName)
	SetFormat(formatName)
}

// SetLevel changes the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	var l Level
	switch strings.ToUpper(name) {
	case "DEBUG":
		l = LevelDebug
	case "INFO":
		l = LevelInfo
	case "WARN":
		l = LevelWarn
	case "ERROR":
		l = LevelError
	default:
		return
	}
	level.Store(int32(l))
	mu.Lock()
	rebuild()
	mu.Unlock()
}

// SetFormat switches between "text" and "json". Unknown names are ignored.
func SetFormat(name string) {
	name = strings.ToLower(name)
	if name != "text" && name != "json" {
		return
	}
	mu.Lock()
	format = name
	rebuild()
	mu.Unlock()
}

// CurrentLevel returns the active minimum level.
func CurrentLevel() Level { return Level(level.Load()) }

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Debug logs at debug level: Debug("msg", "key", value, ...).
func Debug(msg string, args ...any) {
	if Level(level.Load()) > LevelDebug {
		return
	}
	current().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	if Level(level.Load()) > LevelInfo {
		return
	}
	current().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	if Level(level.Load()) > LevelWarn {
		return
	}
	current().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// With returns a child slog.Logger carrying fixed attributes, for
// components that log many records with the same identity (a session, a
// connection).
func With(args ...any) *slog.Logger {
	return current().With(args...)
}
