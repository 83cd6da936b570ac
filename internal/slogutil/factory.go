package slogutil

import (
	"io"
	"log/slog"

	"fixhunt/internal/config"
)

// LoggerFactory builds the process logger from configuration and CLI flags.
// Precedence: CLI flags > config logging.level > default (warn)
type LoggerFactory struct {
	config   config.LoggingConfig
	stderr   io.Writer
	cliLevel *slog.Level
	closers  []io.Closer
}

// NewLoggerFactory creates a new logger factory writing console logs to stderr.
func NewLoggerFactory(cfg config.LoggingConfig, stderr io.Writer) *LoggerFactory {
	return &LoggerFactory{
		config: cfg,
		stderr: stderr,
	}
}

// WithFlags applies --verbose / --quiet on top of the configured level.
func (f *LoggerFactory) WithFlags(verbose, quiet bool) *LoggerFactory {
	switch {
	case quiet:
		level := LevelFromVerbosity(0, true)
		f.cliLevel = &level
	case verbose:
		level := slog.LevelDebug
		f.cliLevel = &level
	}
	return f
}

// Logger returns the process logger. Console records omit the timestamp;
// when logging.file is configured records are also appended there.
func (f *LoggerFactory) Logger() (*slog.Logger, error) {
	level := f.effectiveLevel()
	console := NewLineHandlerWithOptions(f.stderr, &LineOptions{
		HandlerOptions: slog.HandlerOptions{Level: level},
		OmitTime:       true,
	})

	if f.config.File == "" {
		return slog.New(console), nil
	}

	fileLogger, file, err := NewFileLogger(f.config.File, level)
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, file)

	return NewTeeLogger(console, fileLogger.Handler()), nil
}

func (f *LoggerFactory) effectiveLevel() slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	if f.config.Level != "" {
		return LevelFromString(f.config.Level)
	}
	return slog.LevelWarn
}

// Close closes all open log files.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
