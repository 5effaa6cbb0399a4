package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is a configuration error surfaced at activation or on a
// rejected reload. Delivery never starts with one of these outstanding.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks the invariants a running relay depends on. It returns the
// first problem found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return &ValidationError{Field: "telegram.token", Reason: "required"}
	}
	if strings.TrimSpace(cfg.Telegram.ChatID) == "" {
		return &ValidationError{Field: "telegram.chat_id", Reason: "required"}
	}
	if cfg.Relay.MentionEnabled() &&
		strings.TrimSpace(cfg.Relay.OwnerNick) == "" && len(cfg.Relay.Aliases) == 0 {
		return &ValidationError{Field: "relay.owner_nick", Reason: "required when mention notifications are enabled"}
	}
	if cfg.Relay.TruncateAt < 0 {
		return &ValidationError{Field: "relay.truncate_at", Reason: "must be >= 0"}
	}

	for field, raw := range map[string]string{
		"telegram.timeout":               cfg.Telegram.Timeout,
		"notifier.retry_base":            cfg.Notifier.RetryBase,
		"notifier.retry_max_delay":       cfg.Notifier.RetryMaxDelay,
		"storage.busy_timeout":           cfg.Storage.BusyTimeout,
		"maintenance.delivery_retention": retention(cfg.Maintenance),
	} {
		if _, err := ParseDurationField(field, raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3", "memory":
	default:
		return &ValidationError{Field: "storage.driver", Reason: "unknown driver " + cfg.Storage.Driver}
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "memory" && strings.TrimSpace(cfg.Storage.Path) == "" {
		return &ValidationError{Field: "storage.path", Reason: "required for driver " + firstNonEmpty(d, "file")}
	}
	return nil
}

func retention(m *MaintenanceConfig) string {
	if m == nil {
		return ""
	}
	return m.DeliveryRetention
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
