package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ircnotify/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	if driver != "memory" {
		cfg.Path = filepath.Join(t.TempDir(), "state.db")
	}
	s, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContacts(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t, driver)
			ctx := context.Background()
			seen := time.Now()

			ins, err := s.InsertContactIfAbsent(ctx, "libera", "alice", seen)
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			if !ins {
				t.Fatal("first insert reported absent record as existing")
			}

			ins, err = s.InsertContactIfAbsent(ctx, "libera", "alice", seen.Add(time.Hour))
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if ins {
				t.Fatal("second insert created a duplicate record")
			}

			rec, ok, err := s.GetContact(ctx, "libera", "alice")
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if rec.Network != "libera" || rec.Nick != "alice" {
				t.Fatalf("unexpected record: %+v", rec)
			}

			// Same nick on another network is a distinct contact.
			ins, err = s.InsertContactIfAbsent(ctx, "oftc", "alice", seen)
			if err != nil || !ins {
				t.Fatalf("cross-network insert: ins=%v err=%v", ins, err)
			}

			if err := s.DeleteContact(ctx, "libera", "alice"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.GetContact(ctx, "libera", "alice"); ok {
				t.Fatal("contact survived delete")
			}
			ins, err = s.InsertContactIfAbsent(ctx, "libera", "alice", seen)
			if err != nil || !ins {
				t.Fatalf("re-insert after delete: ins=%v err=%v", ins, err)
			}
		})
	}
}

func TestStoreMutes(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t, driver)
			ctx := context.Background()
			now := time.Now()

			// Indefinite mute: zero until.
			if err := s.PutMute(ctx, "libera", "#noisy", time.Time{}); err != nil {
				t.Fatalf("put indefinite: %v", err)
			}
			until, ok, err := s.GetMute(ctx, "libera", "#noisy")
			if err != nil || !ok {
				t.Fatalf("get indefinite: ok=%v err=%v", ok, err)
			}
			if !until.IsZero() {
				t.Fatalf("indefinite mute has expiry %v", until)
			}
			if !Muted(until, ok, now.Add(1000*time.Hour)) {
				t.Fatal("indefinite mute expired")
			}

			// Timed mute.
			if err := s.PutMute(ctx, "libera", "#busy", now.Add(time.Hour)); err != nil {
				t.Fatalf("put timed: %v", err)
			}
			until, ok, _ = s.GetMute(ctx, "libera", "#busy")
			if !Muted(until, ok, now) {
				t.Fatal("timed mute inactive before expiry")
			}
			if Muted(until, ok, now.Add(2*time.Hour)) {
				t.Fatal("timed mute active after expiry")
			}

			if err := s.DeleteMute(ctx, "libera", "#noisy"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.GetMute(ctx, "libera", "#noisy"); ok {
				t.Fatal("mute survived delete")
			}

			// Prune removes expired timed mutes, keeps indefinite ones.
			if err := s.PutMute(ctx, "libera", "#old", now.Add(-time.Hour)); err != nil {
				t.Fatalf("put expired: %v", err)
			}
			if err := s.PutMute(ctx, "libera", "#forever", time.Time{}); err != nil {
				t.Fatalf("put indefinite: %v", err)
			}
			n, err := s.PruneMutes(ctx, now)
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned %d mutes, want 1", n)
			}
			if _, ok, _ := s.GetMute(ctx, "libera", "#old"); ok {
				t.Fatal("expired mute survived prune")
			}
			if _, ok, _ := s.GetMute(ctx, "libera", "#forever"); !ok {
				t.Fatal("indefinite mute removed by prune")
			}
		})
	}
}

func TestStoreDeliveries(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t, driver)
			ctx := context.Background()
			now := time.Now()

			old := DeliveryEntry{At: now.Add(-48 * time.Hour), Kind: "mention", Network: "libera", Channel: "#go", Sender: "carol", Outcome: "sent", Attempts: 1}
			fresh := DeliveryEntry{At: now, Kind: "first_pm", Network: "libera", Sender: "dave", Outcome: "failed", Attempts: 4, Error: "telegram send failed"}
			if err := s.AppendDelivery(ctx, old); err != nil {
				t.Fatalf("append old: %v", err)
			}
			if err := s.AppendDelivery(ctx, fresh); err != nil {
				t.Fatalf("append fresh: %v", err)
			}

			n, err := s.PruneDeliveries(ctx, now.Add(-24*time.Hour))
			if err != nil {
				t.Fatalf("prune: %v", err)
			}
			if n != 1 {
				t.Fatalf("pruned %d deliveries, want 1", n)
			}
			// Second prune with the same cutoff is a no-op.
			n, err = s.PruneDeliveries(ctx, now.Add(-24*time.Hour))
			if err != nil || n != 0 {
				t.Fatalf("second prune: n=%d err=%v", n, err)
			}
		})
	}
}

func TestFileStoreReopenReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.InsertContactIfAbsent(ctx, "libera", "alice", time.Now()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.InsertContactIfAbsent(ctx, "libera", "bob", time.Now()); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.DeleteContact(ctx, "libera", "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.PutMute(ctx, "libera", "#noisy", time.Time{}); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, ok, _ := s2.GetContact(ctx, "libera", "alice"); !ok {
		t.Fatal("contact lost across reopen")
	}
	if _, ok, _ := s2.GetContact(ctx, "libera", "bob"); ok {
		t.Fatal("forgotten contact resurrected by reopen")
	}
	if _, ok, _ := s2.GetMute(ctx, "libera", "#noisy"); !ok {
		t.Fatal("mute lost across reopen")
	}
	ins, err := s2.InsertContactIfAbsent(ctx, "libera", "alice", time.Now())
	if err != nil || ins {
		t.Fatalf("reopened store treated known contact as new: ins=%v err=%v", ins, err)
	}
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.InsertContactIfAbsent(context.Background(), "n", "a", time.Now()); err != ErrClosed {
		t.Fatalf("insert on closed store: %v, want ErrClosed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
