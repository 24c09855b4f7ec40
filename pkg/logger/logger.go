// Package logger adapts the module's leveled-logging needs onto
// github.com/pion/logging, the LeveledLogger/LoggerFactory contract used
// throughout the pion RTP/RTCP/WebRTC ecosystem this library sits next to.
//
// The public shape (Level, ParseLevel, Level.String) is kept from the
// teacher's hand-rolled logger so call sites that parsed a level out of
// configuration don't need to change; underneath, a Factory now hands out
// scoped logging.LeveledLogger values instead of wrapping the stdlib log
// package directly.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/pion/logging"
)

// Level mirrors the teacher's four-level scheme, mapped onto
// logging.LogLevel (which additionally has Disabled and Trace).
type Level int

const (
	// LevelError shows only error messages.
	LevelError Level = iota
	// LevelWarn shows warnings and errors.
	LevelWarn
	// LevelInfo shows informational messages, warnings, and errors (default).
	LevelInfo
	// LevelDebug shows all messages including detailed debug information.
	LevelDebug
)

func (l Level) pionLevel() logging.LogLevel {
	switch l {
	case LevelError:
		return logging.LogLevelError
	case LevelWarn:
		return logging.LogLevelWarn
	case LevelInfo:
		return logging.LogLevelInfo
	case LevelDebug:
		return logging.LogLevelDebug
	default:
		return logging.LogLevelInfo
	}
}

// String returns the level's name, keeping the teacher's all-caps form.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, as the teacher's config loader does when
// reading a YAML "log_level" field.
func ParseLevel(levelStr string) (Level, error) {
	switch levelStr {
	case "error":
		return LevelError, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (valid levels: error, warn, info, debug)", levelStr)
	}
}

// Factory builds scoped loggers (one per package: "rtp", "rtcp", "jitter",
// "twccfeed", ...) backed by pion/logging's DefaultLoggerFactory, the sink
// stdlib log still appears behind.
type Factory struct {
	inner *logging.DefaultLoggerFactory
}

// NewFactory builds a Factory writing to w at the given default level; nil
// w defaults to os.Stderr, matching the teacher's default logger.
func NewFactory(level Level, w io.Writer) *Factory {
	if w == nil {
		w = os.Stderr
	}
	return &Factory{inner: &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: level.pionLevel(),
		ScopeLevels:     map[string]logging.LogLevel{},
	}}
}

// NewLogger returns a scoped leveled logger, implementing
// logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return f.inner.NewLogger(scope)
}

// Default is a package-level Factory at LevelInfo. No constructor in this
// module falls back to it: jitter.New and rtcp.Read take a
// logging.LeveledLogger and treat nil as logging disabled.
var Default = NewFactory(LevelInfo, os.Stderr)
