// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig enables a rotating log file alongside stderr.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	defaultLogger *logrus.Logger
	withCaller    bool
)

// Init initializes the default logger with the specified level and format.
// Unknown levels fall back to info; format is "json" or "text".
func Init(level string, format string) {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	withCaller = false
	if strings.ToLower(format) == "text" {
		withCaller = true
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000000",
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}

	defaultLogger = l
}

// SetFile mirrors log output to a size-rotated file. Must be called after Init.
func SetFile(cfg FileConfig) error {
	if defaultLogger == nil {
		return fmt.Errorf("logger not initialized")
	}
	if cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	defaultLogger.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}))
	return nil
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	if defaultLogger != nil {
		defaultLogger.SetOutput(w)
	}
}

func entry() *logrus.Entry {
	e := logrus.NewEntry(defaultLogger)
	if withCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			e = e.WithField("caller", fmt.Sprintf("%s:%d", filepath.Base(file), line))
		}
	}
	return e
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.IsLevelEnabled(logrus.DebugLevel) {
		entry().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.IsLevelEnabled(logrus.InfoLevel) {
		entry().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.IsLevelEnabled(logrus.WarnLevel) {
		entry().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil && defaultLogger.IsLevelEnabled(logrus.ErrorLevel) {
		entry().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		entry().Errorf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, "[FATAL] "+format+"\n", args...)
	}
	os.Exit(1)
}
