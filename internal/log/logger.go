package log

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Fields contains key-value pairs of structured logging data.
type Fields = logrus.Fields

// Logger is the logging type used by Grit.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger

	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Config contains the configuration for the logger.
type Config struct {
	// Format is the log format to use, either "text" or "json".
	Format string `toml:"format,omitempty"`
	// Level is the minimum level at which messages get emitted.
	Level string `toml:"level,omitempty"`
}

// Configure creates a new logger that writes to the given writer using the
// provided configuration.
func Configure(out io.Writer, cfg Config) (Logger, error) {
	logger := logrus.New()
	logger.Out = NewSyncWriter(out)

	switch cfg.Format {
	case "", "text":
		logger.Formatter = &logrus.TextFormatter{}
	case "json":
		logger.Formatter = &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000"}
	default:
		return nil, fmt.Errorf("invalid log format: %q", cfg.Format)
	}

	if cfg.Level != "" {
		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse level: %w", err)
		}

		logger.SetLevel(level)
	}

	return FromLogrusEntry(logrus.NewEntry(logger)), nil
}

// Discard returns a logger that drops all messages. It is mainly intended to
// be used by components that were not handed an explicit logger.
func Discard() Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return FromLogrusEntry(logrus.NewEntry(logger))
}

// LogrusLogger adapts a logrus entry to the Logger interface.
type LogrusLogger struct {
	entry *logrus.Entry
}

// FromLogrusEntry constructs a new logger from a preconfigured logrus entry.
func FromLogrusEntry(entry *logrus.Entry) LogrusLogger {
	return LogrusLogger{entry: entry}
}

// WithField creates a new logger with the given field appended.
func (l LogrusLogger) WithField(key string, value any) Logger {
	return LogrusLogger{entry: l.entry.WithField(key, value)}
}

// WithFields creates a new logger with the given fields appended.
func (l LogrusLogger) WithFields(fields Fields) Logger {
	return LogrusLogger{entry: l.entry.WithFields(fields)}
}

// WithError creates a new logger with an appended error field.
func (l LogrusLogger) WithError(err error) Logger {
	return LogrusLogger{entry: l.entry.WithError(err)}
}

// Debug writes a log message at debug level.
func (l LogrusLogger) Debug(msg string) {
	l.entry.Debug(msg)
}

// Info writes a log message at info level.
func (l LogrusLogger) Info(msg string) {
	l.entry.Info(msg)
}

// Warn writes a log message at warning level.
func (l LogrusLogger) Warn(msg string) {
	l.entry.Warn(msg)
}

// Error writes a log message at error level.
func (l LogrusLogger) Error(msg string) {
	l.entry.Error(msg)
}
