package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
// Unknown fields are rejected so typos surface at load time, not as
// silently-ignored options.
type Config struct {
	Telegram    TelegramConfig     `json:"telegram"`
	Relay       RelayConfig        `json:"relay"`
	Notifier    NotifierConfig     `json:"notifier,omitempty"`
	Storage     StorageConfig      `json:"storage,omitempty"`
	Logging     LoggingConfig      `json:"logging,omitempty"`
	Feed        FeedConfig         `json:"feed,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
}

// TelegramConfig is the delivery target.
//
// ThreadMessageID replies into a forum topic, matching the classic bouncer
// module's thread_message_id argument. Endpoint overrides the API base URL
// (tests, proxies); empty means api.telegram.org.
type TelegramConfig struct {
	Token           string `json:"token"`
	ChatID          string `json:"chat_id"`
	ThreadMessageID int    `json:"thread_message_id,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	// Timeout is a Go duration string (e.g. "10s"); per delivery attempt.
	Timeout string `json:"timeout,omitempty"`
}

// RelayConfig controls event classification.
//
// Boolean knobs that default to true are pointers so "omitted" and an
// explicit false stay distinguishable.
type RelayConfig struct {
	OwnerNick     string   `json:"owner_nick"`
	Aliases       []string `json:"aliases,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
	// CaseMapping is the IRC nick casemapping the host session reports
	// ("ascii", "rfc1459", "strict-rfc1459"). Default ascii.
	CaseMapping string `json:"casemapping,omitempty"`

	NotifyOnMention        *bool `json:"notify_on_mention,omitempty"`         // default true
	NotifyOnFirstPM        *bool `json:"notify_on_first_pm,omitempty"`        // default true
	NotifyOnPrivateMention bool  `json:"notify_on_private_mention,omitempty"` // default false

	TruncateAt int `json:"truncate_at,omitempty"` // rune cap, default 400
}

func (r RelayConfig) MentionEnabled() bool { return r.NotifyOnMention == nil || *r.NotifyOnMention }
func (r RelayConfig) FirstPMEnabled() bool { return r.NotifyOnFirstPM == nil || *r.NotifyOnFirstPM }

// NotifierConfig controls the async delivery pipeline.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"` // default true
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	MaxRetries    *int   `json:"max_retries,omitempty"` // default 3
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

func (n NotifierConfig) IsEnabled() bool { return n.Enabled == nil || *n.Enabled }

func (n NotifierConfig) Retries() int {
	if n.MaxRetries == nil {
		return 3
	}
	if *n.MaxRetries < 0 {
		return 0
	}
	return *n.MaxRetries
}

// StorageConfig selects the durable state backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./ircnotify.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // file | sqlite | memory
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"` // default true
	File    LoggingFile `json:"file,omitempty"`
}

func (l LoggingConfig) ConsoleEnabled() bool { return l.Console == nil || *l.Console }

type LoggingFile struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// FeedConfig selects where host bridge events come from.
type FeedConfig struct {
	// Socket is a unix socket path the daemon listens on for JSONL events.
	Socket string `json:"socket,omitempty"`
	// Stdin reads JSONL events from standard input instead (pipe mode).
	Stdin bool `json:"stdin,omitempty"`
}

// MaintenanceConfig controls periodic state-store upkeep.
type MaintenanceConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default true
	// Schedule is a cron expression (robfig/cron, "@hourly" style accepted).
	Schedule string `json:"schedule,omitempty"`
	// DeliveryRetention is how long delivery log entries are kept.
	DeliveryRetention string `json:"delivery_retention,omitempty"`
}

func (m *MaintenanceConfig) IsEnabled() bool {
	if m == nil {
		return true
	}
	return m.Enabled == nil || *m.Enabled
}
