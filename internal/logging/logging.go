package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Options selects the handler. Format "pretty" uses a colour console handler;
// anything else writes logfmt text.
type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New returns a minimal structured logger with secret redaction.
func New() *slog.Logger {
	return NewWithOptions(Options{})
}

// NewWithLevel returns a redacting text logger at the named level.
func NewWithLevel(level string) *slog.Logger {
	return NewWithOptions(Options{Level: level})
}

// NewWithOptions builds a redacting logger from opts.
func NewWithOptions(opts Options) *slog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	level := ParseLevel(opts.Level)

	if strings.EqualFold(opts.Format, "pretty") {
		return slog.New(tint.NewHandler(out, &tint.Options{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					a.Value = slog.StringValue(formatRFC3339Millis(a.Value.Time()))
				}
				return redact(groups, a)
			},
		}))
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps debug|info|warn|warning|error to a level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if isSecretKey(a.Key) {
		a.Value = slog.StringValue("[redacted]")
	}
	return a
}

// publicKeys look like secrets by name but carry on-chain identifiers.
var publicKeys = map[string]bool{
	"reward_token": true,
	"public_key":   true,
	"passphrase":   true,
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	if publicKeys[k] {
		return false
	}
	for _, marker := range []string{"token", "secret", "seed", "key", "pass"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func formatRFC3339Millis(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s.%03dZ", t.Format("2006-01-02T15:04:05"), t.Nanosecond()/1_000_000)
}
