package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "memory": volatile in-process store (tests, dry runs)
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ContactRecord marks a peer as known: its mere existence means the peer has
// messaged the owner before. Records are only ever removed by an explicit
// forget, never automatically.
type ContactRecord struct {
	Network     string
	Nick        string // folded per the session casemapping
	FirstSeenAt time.Time
}

// DeliveryEntry records the outcome of one notification attempt chain.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At       time.Time
	Kind     string // "mention" | "first_pm"
	Network  string
	Channel  string // empty for private messages
	Sender   string
	Outcome  string // "sent" | "failed" | "dropped"
	Attempts int
	Error    string
	TookMS   int64
}
