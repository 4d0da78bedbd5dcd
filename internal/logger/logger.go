package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process-wide zerolog logger and the writers behind it.
type Logger struct {
	logger   zerolog.Logger
	file     *RotatingWriter
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty for none
	Console   bool
	Pretty    bool // human readable console output
	Redaction bool // mask secrets before they reach any writer
	Rotation  RotationPolicy

	// Console output goes to stderr unless set. stdout is reserved for
	// protocol traffic in stdio mode.
	Output io.Writer
}

// New creates a logger and installs it as log.Logger. With neither
// console nor file configured, JSON goes to Output.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	l := &Logger{}
	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, console(out, cfg.Pretty))
	}
	if cfg.File != "" {
		rw, err := OpenRotating(cfg.File, cfg.Rotation)
		if err != nil {
			return nil, err
		}
		l.file = rw
		sinks = append(sinks, rw)
	}

	w := out
	if len(sinks) == 1 {
		w = sinks[0]
	} else if len(sinks) > 1 {
		w = io.MultiWriter(sinks...)
	}
	if cfg.Redaction {
		l.redactor = NewRedactor()
		w = l.redactor.Wrap(w)
	}

	l.logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = l.logger
	return l, nil
}

func console(out io.Writer, pretty bool) io.Writer {
	if !pretty {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (l *Logger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.logger.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.logger.Error() }

// With creates a child logger context.
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// Redactor returns the redactor applied to log output, or nil when
// redaction is off. The registry reuses it for argument summaries.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		Rotation: RotationPolicy{
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}
