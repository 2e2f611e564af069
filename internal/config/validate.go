package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/security"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Pipe.Name) == "" {
		return nil, fmt.Errorf("pipe.name must not be empty")
	}
	if cfg.Pipe.MaxMessageUnits < 2 {
		return nil, fmt.Errorf("pipe.max_message_units must be >= 2")
	}
	if _, err := security.ParseSDDL(cfg.Security.SDDL); err != nil {
		return nil, fmt.Errorf("security.sddl: %w", err)
	}
	if cfg.Client.RetryWaitMS <= 0 {
		return nil, fmt.Errorf("client.retry_wait_ms must be > 0")
	}
	if err := message.CheckText(cfg.Client.Request); err != nil {
		return nil, fmt.Errorf("client.request: %w", err)
	}
	if err := message.CheckText(cfg.Server.Response); err != nil {
		return nil, fmt.Errorf("server.response: %w", err)
	}
	if units := message.Units(cfg.Client.Request); units > cfg.Pipe.MaxMessageUnits {
		return nil, fmt.Errorf("client.request needs %d units, pipe.max_message_units is %d", units, cfg.Pipe.MaxMessageUnits)
	}
	if units := message.Units(cfg.Server.Response); units > cfg.Pipe.MaxMessageUnits {
		return nil, fmt.Errorf("server.response needs %d units, pipe.max_message_units is %d", units, cfg.Pipe.MaxMessageUnits)
	}

	if cfg.Client.Request == "" {
		warnings = append(warnings, Warning{Message: "client.request is empty; the client will send only a terminator"})
	}
	if cfg.Server.Response == "" {
		warnings = append(warnings, Warning{Message: "server.response is empty; the server will send only a terminator"})
	}
	if _, ok := ParseLogLevel(cfg.Log.Level); !ok {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("log.level %q is not recognized; using info", cfg.Log.Level)})
	}

	return warnings, nil
}

// ParseLogLevel maps a config level name onto slog; unknown names yield info.
func ParseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
