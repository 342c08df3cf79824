// Package logging wires the controller's logrus logger: a rotating log file that
// receives every line, and a console hook whose levels depend on the verbosity.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/monify-labs/swapguard/internal/config"
)

const (
	timestampFormat = "2006-01-02 15:04:05"
	maxFileSizeMB   = 5
	maxBackups      = 3
)

// ConsoleHook mirrors entries at selected levels to a console writer
type ConsoleHook struct {
	Writer    io.Writer
	Formatter logrus.Formatter
	LogLevels []logrus.Level
}

// Levels implements logrus.Hook
func (h *ConsoleHook) Levels() []logrus.Level {
	return h.LogLevels
}

// Fire implements logrus.Hook
func (h *ConsoleHook) Fire(entry *logrus.Entry) error {
	line, err := h.Formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.Writer.Write(line)
	return err
}

// ConsoleLevels returns the levels shown on the console for a verbosity setting
func ConsoleLevels(verbosity int) []logrus.Level {
	switch verbosity {
	case config.VerbosityFull:
		return logrus.AllLevels
	case config.VerbosityKeyEvents:
		return levelsUpTo(logrus.InfoLevel)
	default:
		return nil
	}
}

func levelsUpTo(limit logrus.Level) []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= limit {
			levels = append(levels, l)
		}
	}
	return levels
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		DisableColors:   true,
	}
}

// New builds a logger writing everything to file and, depending on verbosity, to console.
// When file is nil the log file is opened from cfg.LogFilePath with rotation.
func New(cfg *config.Config, file io.Writer, console io.Writer) *logrus.Logger {
	if file == nil {
		file = &lumberjack.Logger{
			Filename:   cfg.LogFilePath,
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxBackups,
		}
	}
	if console == nil {
		console = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(file)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(newFormatter())

	if levels := ConsoleLevels(cfg.LogVerbosity); len(levels) > 0 {
		logger.AddHook(&ConsoleHook{
			Writer:    console,
			Formatter: newFormatter(),
			LogLevels: levels,
		})
	}

	return logger
}

// Critical logs at error level tagged as critical severity
func Critical(log logrus.FieldLogger, format string, args ...interface{}) {
	log.WithField("severity", "critical").Errorf(format, args...)
}
