package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"ircnotify/pkg/logx"
)

// Store is the durable state API used by the relay.
//
// Contact operations must be atomic: InsertContactIfAbsent is the primitive
// the first-contact tracker relies on to never double-fire for one peer.
type Store interface {
	// InsertContactIfAbsent records (network, nick) with firstSeen and
	// reports whether the record was created by this call.
	InsertContactIfAbsent(ctx context.Context, network, nick string, firstSeen time.Time) (bool, error)
	GetContact(ctx context.Context, network, nick string) (ContactRecord, bool, error)
	DeleteContact(ctx context.Context, network, nick string) error

	// Mutes: until is the expiry instant; the zero time means indefinite.
	PutMute(ctx context.Context, network, channel string, until time.Time) error
	GetMute(ctx context.Context, network, channel string) (until time.Time, ok bool, err error)
	DeleteMute(ctx context.Context, network, channel string) error
	PruneMutes(ctx context.Context, now time.Time) (int, error)

	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Muted interprets a GetMute result at a given instant.
func Muted(until time.Time, ok bool, now time.Time) bool {
	if !ok {
		return false
	}
	return until.IsZero() || until.After(now)
}
