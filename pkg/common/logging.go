package common

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/AlexanderGrooff/drover/pkg/config"
)

// LogFormat names a supported log output format.
type LogFormat string

const (
	LogFormatPlain LogFormat = "plain"
	LogFormatJSON  LogFormat = "json"
	LogFormatYAML  LogFormat = "yaml"
)

// ValidLogFormats lists every format ApplyLoggingConfig accepts.
var ValidLogFormats = []LogFormat{LogFormatPlain, LogFormatJSON, LogFormatYAML}

// The shared logger writes to stderr: stdout belongs to play output in the
// coordinator and to the result frame protocol in workers.
var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(buildFormatter(config.LoggingConfig{
		Format:     string(LogFormatPlain),
		Timestamps: true,
	}))
	return l
}

// IsValidLogFormat reports whether format names a supported log format.
func IsValidLogFormat(format string) bool {
	for _, valid := range ValidLogFormats {
		if format == string(valid) {
			return true
		}
	}
	return false
}

// ApplyLoggingConfig configures the shared logger from a loaded config.
func ApplyLoggingConfig(loggingCfg config.LoggingConfig) error {
	if err := SetLogFormat(loggingCfg); err != nil {
		return err
	}
	SetLogLevel(loggingCfg.Level)
	if loggingCfg.File != "" {
		return SetLogFile(loggingCfg.File)
	}
	return nil
}

// SetLogFormat switches the logger to the configured format.
func SetLogFormat(loggingCfg config.LoggingConfig) error {
	if !IsValidLogFormat(loggingCfg.Format) {
		return fmt.Errorf("invalid log format %q, valid formats are: %v", loggingCfg.Format, ValidLogFormats)
	}
	logger.SetFormatter(buildFormatter(loggingCfg))
	return nil
}

func buildFormatter(loggingCfg config.LoggingConfig) logrus.Formatter {
	timestampFormat := ""
	if loggingCfg.Timestamps {
		timestampFormat = "2006-01-02 15:04:05"
	}

	switch LogFormat(loggingCfg.Format) {
	case LogFormatJSON:
		return &logrus.JSONFormatter{
			TimestampFormat:  timestampFormat,
			DisableTimestamp: !loggingCfg.Timestamps,
		}
	case LogFormatYAML:
		// Key-sorted colorless text, close enough to YAML for log shippers.
		return &logrus.TextFormatter{
			DisableColors:    true,
			TimestampFormat:  timestampFormat,
			FullTimestamp:    loggingCfg.Timestamps,
			DisableTimestamp: !loggingCfg.Timestamps,
			SortingFunc:      sort.Strings,
		}
	default:
		return &logrus.TextFormatter{
			TimestampFormat:  timestampFormat,
			FullTimestamp:    loggingCfg.Timestamps,
			DisableTimestamp: !loggingCfg.Timestamps,
		}
	}
}

// SetLogLevel sets the logging level, falling back to info on bad input.
func SetLogLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

// SetLogFile appends log output to the given file.
func SetLogFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logger.SetOutput(file)
	return nil
}

// SetLogOutput redirects log output. Worker processes point this at their
// preserved stderr after detaching the result stream.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetRunID tags every subsequent log entry with the run's id.
func SetRunID(id string) {
	logger.AddHook(runIDHook{id: id})
}

type runIDHook struct {
	id string
}

func (h runIDHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h runIDHook) Fire(entry *logrus.Entry) error {
	entry.Data["run_id"] = h.id
	return nil
}

// LogDebug logs a debug message with structured fields.
func LogDebug(msg string, fields map[string]interface{}) {
	logger.WithFields(fields).Debug(msg)
}

// LogInfo logs an info message with structured fields.
func LogInfo(msg string, fields map[string]interface{}) {
	logger.WithFields(fields).Info(msg)
}

// LogWarn logs a warning with structured fields.
func LogWarn(msg string, fields map[string]interface{}) {
	logger.WithFields(fields).Warn(msg)
}

// LogError logs an error with structured fields.
func LogError(msg string, fields map[string]interface{}) {
	logger.WithFields(fields).Error(msg)
}

// DebugOutput logs a printf-style debug message.
func DebugOutput(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}
