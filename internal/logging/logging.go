// Package logging builds the structured slog.Logger every component in
// this module takes a reference to, wiring the teacher's level/file/console
// configuration shape onto slog.NewTextHandler instead of a hand-rolled
// log.Logger formatter.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Level mirrors the teacher's four-level scheme, translated to a
// slog.Level at handler construction time.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
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

// SlogLevel maps Level onto the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel parses a level string from config.toml.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config contains logger configuration, matching config.LoggingConfig.
type Config struct {
	Level   string
	File    string
	Console bool
}

// closer is returned alongside the logger so callers (cmd/rosterd) can
// flush and close the backing log file on shutdown.
type closer struct {
	f *os.File
}

func (c *closer) Close() error {
	if c.f != nil {
		return c.f.Close()
	}
	return nil
}

// New builds a slog.Logger writing to cfg.File and/or stderr per
// cfg.Console, filtered at cfg.Level. It returns an io.Closer for the
// backing file handle, which is a no-op when cfg.File is empty.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	cl := &closer{}

	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cl.f = f
		writers = append(writers, f)
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	var w io.Writer
	if len(writers) == 1 {
		w = writers[0]
	} else {
		w = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level).SlogLevel(),
	})
	return slog.New(handler), cl, nil
}
