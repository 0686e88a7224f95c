// Package logging builds the structured logger shared by the command
// line tools. Output goes to stderr, or to a size- and age-rotated file
// when a log file is configured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
)

// Config selects the log destination and verbosity
type Config struct {
	// Logfile is the rotated log file; empty logs to stderr
	Logfile string

	// MaxSize is the size in megabytes at which the log file is rotated
	MaxSize int

	// MaxAge is the number of days rotated files are kept
	MaxAge int

	// Level is one of debug, info, warn or error
	Level string
}

// ParseLevel converts a level name to a slog.Level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New creates a logger for cfg. The returned closer releases the log
// file and must be called on shutdown.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Logfile != "" {
		l := &lumberjack.Logger{
			Filename: cfg.Logfile,
			MaxSize:  cfg.MaxSize, // megabytes
			MaxAge:   cfg.MaxAge,  // days
		}
		out, closer = l, l
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
