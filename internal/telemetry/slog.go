package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rnblock/api-key-provider/internal/auth"
)

const redacted = "[redacted]"

// sensitiveKeys are attribute names whose values never reach the log output
var sensitiveKeys = map[string]bool{
	"password":      true,
	"pepper":        true,
	"secret":        true,
	"token":         true,
	"authorization": true,
	"api_key":       true,
	"cookie":        true,
}

// SetupLogger installs the default slog logger.
//
// format: "json" selects the JSONHandler, anything else the TextHandler.
// level: "debug", "info", "warn", "error" (case-insensitive); defaults to "info".
//
// Attributes named like credentials are replaced with "[redacted]" and string values that look
// like API keys are masked, so a stray slog call cannot leak a secret.
func SetupLogger(format, level string) {
	lvl := ParseLevel(level)
	slog.SetDefault(slog.New(newHandler(os.Stdout, format, lvl)))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}

// ParseLevel maps a config level name to a slog level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

func newHandler(w io.Writer, format string, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       lvl,
		AddSource:   lvl == slog.LevelDebug,
		ReplaceAttr: redactAttr,
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if v := a.Value.String(); auth.EnvironmentFromKey(v) != "" {
			return slog.String(a.Key, auth.MaskAPIKey(v))
		}
	}
	return a
}
