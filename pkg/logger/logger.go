package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmLog "github.com/charmbracelet/log"
)

const (
	defaultFormat = "text"
	defaultLevel  = "info"

	envPrefix = "QQBOT_LOG_"

	// ComponentKey and AccountKey are lifted out of the field map by the
	// JSON handler.
	ComponentKey = "component"
	AccountKey   = "account_id"
)

// Options selects the log output. Secrets are credential values, typically
// the app tokens and secrets of every configured bot account, masked wherever
// they appear in a record.
type Options struct {
	Format    string
	Level     string
	AddSource bool
	Secrets   []string
}

// New builds the process logger writing to stderr. QQBOT_LOG_FORMAT,
// QQBOT_LOG_LEVEL and QQBOT_LOG_ADD_SOURCE override opts.
func New(opts Options) (*slog.Logger, error) {
	return newWithWriter(opts, os.Stderr)
}

func newWithWriter(opts Options, writer io.Writer) (*slog.Logger, error) {
	opts = opts.withEnv()

	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch opts.Format {
	case "text":
		h = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			ReportCaller:    opts.AddSource,
			Formatter:       charmLog.TextFormatter,
		})
	case "json":
		h = &entryHandler{level: level, addSource: opts.AddSource, writer: writer, mu: &sync.Mutex{}}
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	return slog.New(newRedactor(h, opts.Secrets)), nil
}

// Component scopes log to one component. A nil log falls back to
// slog.Default.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		log = slog.Default()
	}
	return log.With(ComponentKey, name)
}

// Account scopes log to a component serving one bot account.
func Account(log *slog.Logger, component, accountID string) *slog.Logger {
	log = Component(log, component)
	if accountID == "" {
		return log
	}
	return log.With(AccountKey, accountID)
}

func (o Options) withEnv() Options {
	if v := env("FORMAT"); v != "" {
		o.Format = v
	}
	if v := env("LEVEL"); v != "" {
		o.Level = v
	}
	if v := env("ADD_SOURCE"); v != "" {
		o.AddSource = parseBool(v)
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = defaultFormat
	}
	return o
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseLevel(input string) (slog.Level, error) {
	text := strings.ToLower(strings.TrimSpace(input))
	if text == "" {
		text = defaultLevel
	}

	switch text {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
