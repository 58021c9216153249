// Package log provides the process logger, a logrus adapter behind a small
// interface. Logs go to stderr and optionally to a rotated file; stdout is
// reserved for events.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"firestige.xyz/netmon/internal/config"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

const (
	defaultPattern = "%time [%level] %caller: %msg %field"
	defaultTime    = "2006-01-02 15:04:05.000"
)

var (
	once   sync.Once
	mu     sync.RWMutex
	logger Logger = newDefault()
)

// GetLogger returns the process logger. Before Init it logs at info level
// to stderr.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init installs the process logger once. Later calls are no-ops.
func Init(cfg config.LogConfig) error {
	var err error
	once.Do(func() {
		var l Logger
		if l, err = New(cfg, os.Stderr); err == nil {
			mu.Lock()
			logger = l
			mu.Unlock()
		}
	})
	return err
}

// New builds a logger writing to w and to the configured file output.
func New(cfg config.LogConfig, w io.Writer) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	if err := setFormatter(l, cfg); err != nil {
		return nil, err
	}

	out := NewMultiWriter().Add(w)
	if cfg.Outputs.File.Enabled {
		if cfg.Outputs.File.Path == "" {
			return nil, fmt.Errorf("log file output enabled without a path")
		}
		out.AddFileAppender(cfg.Outputs.File)
	}
	l.SetOutput(out)

	return logrusAdapter{logrus.NewEntry(l)}, nil
}

func setFormatter(l *logrus.Logger, cfg config.LogConfig) error {
	switch strings.ToLower(cfg.Format) {
	case "", "pattern":
		pattern, layout := cfg.Pattern, cfg.Time
		if pattern == "" {
			pattern = defaultPattern
		}
		if layout == "" {
			layout = defaultTime
		}
		l.SetFormatter(&formatter{pattern: pattern, time: layout})
	case "text":
		l.SetFormatter(&prefixed.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: defaultTime,
		})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: defaultTime})
	default:
		return fmt.Errorf("unsupported log format: %s (must be pattern, text or json)", cfg.Format)
	}
	return nil
}

func parseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level: %s", s)
	}
}

func newDefault() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&formatter{pattern: "%time [%level] %msg %field", time: defaultTime})
	return logrusAdapter{logrus.NewEntry(l)}
}
