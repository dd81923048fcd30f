package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rexliu/webshell/pkg/config"
)

// Level orders log severities.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config or wire string to a Level; unknown values are info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger wraps the standard log.Logger with a minimum level.
type Logger struct {
	*log.Logger
	min  atomic.Int32
	sink io.Closer
	base io.Writer
}

// New returns a logger writing to stdout.
func New(prefix string) *Logger {
	return NewWithWriter(prefix, os.Stdout)
}

// NewWithWriter returns a logger writing to w.
func NewWithWriter(prefix string, w io.Writer) *Logger {
	l := &Logger{Logger: log.New(w, prefix+" ", log.LstdFlags|log.Lmicroseconds), base: w}
	l.min.Store(int32(LevelInfo))
	return l
}

// Configure applies logging settings from config. FilePath must already be
// resolved against the profile directory.
func (l *Logger) Configure(cfg config.LoggingConfig) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	if cfg.Level != "" {
		l.SetLevel(ParseLevel(cfg.Level))
	}
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o700); err != nil {
			return err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.FileMaxSize,
			MaxBackups: cfg.FileBackups,
			MaxAge:     cfg.FileMaxAge,
		}
		l.sink = file
		l.SetOutput(io.MultiWriter(l.base, file))
	}
	return nil
}

// SetLevel changes the minimum level emitted by the leveled helpers.
func (l *Logger) SetLevel(level Level) {
	l.min.Store(int32(level))
}

// Enabled reports whether level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return level >= Level(l.min.Load())
}

// Logf emits at level.
func (l *Logger) Logf(level Level, format string, v ...any) {
	if l == nil || !l.Enabled(level) {
		return
	}
	l.Printf(level.String()+" "+format, v...)
}

func (l *Logger) Debugf(format string, v ...any) { l.Logf(LevelDebug, format, v...) }
func (l *Logger) Infof(format string, v ...any)  { l.Logf(LevelInfo, format, v...) }
func (l *Logger) Warnf(format string, v ...any)  { l.Logf(LevelWarn, format, v...) }
func (l *Logger) Errorf(format string, v ...any) { l.Logf(LevelError, format, v...) }

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l == nil || l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
