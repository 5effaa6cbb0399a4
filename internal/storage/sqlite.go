package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ircnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertContactIfAbsent(ctx context.Context, network, nick string, firstSeen time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(network, nick, first_seen_at) VALUES(?,?,?)
		 ON CONFLICT(network, nick) DO NOTHING`,
		network, nick, firstSeen.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) GetContact(ctx context.Context, network, nick string) (ContactRecord, bool, error) {
	if s == nil || s.db == nil {
		return ContactRecord{}, false, ErrClosed
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen_at FROM contacts WHERE network = ? AND nick = ?`,
		network, nick,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return ContactRecord{}, false, nil
	}
	if err != nil {
		return ContactRecord{}, false, err
	}
	return ContactRecord{Network: network, Nick: nick, FirstSeenAt: time.UnixMilli(ms)}, true, nil
}

func (s *sqliteStore) DeleteContact(ctx context.Context, network, nick string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM contacts WHERE network = ? AND nick = ?`, network, nick)
	return err
}

func (s *sqliteStore) PutMute(ctx context.Context, network, channel string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	var ms int64
	if !until.IsZero() {
		ms = until.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mutes(network, channel, until) VALUES(?,?,?)
		 ON CONFLICT(network, channel) DO UPDATE SET until=excluded.until`,
		network, channel, ms,
	)
	return err
}

func (s *sqliteStore) GetMute(ctx context.Context, network, channel string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT until FROM mutes WHERE network = ? AND channel = ?`,
		network, channel,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if ms == 0 {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) DeleteMute(ctx context.Context, network, channel string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM mutes WHERE network = ? AND channel = ?`, network, channel)
	return err
}

func (s *sqliteStore) PruneMutes(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mutes WHERE until > 0 AND until < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, kind, network, channel, sender, outcome, attempts, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.Kind, e.Network, nullStr(e.Channel), e.Sender,
		e.Outcome, e.Attempts, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
