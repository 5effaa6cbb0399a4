package contact

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"ircnotify/internal/storage"
	"ircnotify/pkg/irctext"
	"ircnotify/pkg/logx"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(storage.NewMemory(), irctext.CaseMappingASCII, logx.Nop())
}

func TestIsFirstContactOnce(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	ctx := context.Background()

	first, err := tr.IsFirstContact(ctx, "libera", "alice")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if !first {
		t.Fatal("unknown peer not reported as first contact")
	}

	first, err = tr.IsFirstContact(ctx, "libera", "alice")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if first {
		t.Fatal("known peer reported as first contact again")
	}

	// Different casing of the same nick is the same peer.
	first, err = tr.IsFirstContact(ctx, "libera", "ALICE")
	if err != nil || first {
		t.Fatalf("case variant: first=%v err=%v", first, err)
	}

	// Same nick on another network is a different peer.
	first, err = tr.IsFirstContact(ctx, "oftc", "alice")
	if err != nil || !first {
		t.Fatalf("other network: first=%v err=%v", first, err)
	}
}

func TestIsFirstContactConcurrent(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	var firsts atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := tr.IsFirstContact(ctx, "libera", "newbie")
			if err != nil {
				t.Errorf("IsFirstContact: %v", err)
				return
			}
			if first {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := firsts.Load(); got != 1 {
		t.Fatalf("%d goroutines saw first contact, want exactly 1", got)
	}
}

func TestForgetReenables(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)
	ctx := context.Background()

	if first, _ := tr.IsFirstContact(ctx, "libera", "alice"); !first {
		t.Fatal("setup: expected first contact")
	}
	if err := tr.Forget(ctx, "libera", "Alice"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if known, _ := tr.Known(ctx, "libera", "alice"); known {
		t.Fatal("peer still known after forget")
	}
	if first, _ := tr.IsFirstContact(ctx, "libera", "alice"); !first {
		t.Fatal("forgotten peer not treated as first contact again")
	}
}

func TestRFC1459Folding(t *testing.T) {
	t.Parallel()
	tr := NewTracker(storage.NewMemory(), irctext.CaseMappingRFC1459, logx.Nop())
	ctx := context.Background()

	if first, _ := tr.IsFirstContact(ctx, "libera", "Nick[away]"); !first {
		t.Fatal("expected first contact")
	}
	// Under rfc1459, {} and [] fold to the same nick.
	if first, _ := tr.IsFirstContact(ctx, "libera", "nick{away}"); first {
		t.Fatal("rfc1459 equivalent nick treated as a new peer")
	}
}

func TestStoreErrorFailsSafe(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	tr := NewTracker(store, irctext.CaseMappingASCII, logx.Nop())
	_ = store.Close()

	first, err := tr.IsFirstContact(context.Background(), "libera", "alice")
	if err == nil {
		t.Fatal("expected error from closed store")
	}
	if first {
		t.Fatal("store error must not report first contact")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	tr := NewTracker(st, irctext.CaseMappingASCII, logx.Nop())
	if first, _ := tr.IsFirstContact(ctx, "libera", "alice"); !first {
		t.Fatal("expected first contact")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	tr2 := NewTracker(st2, irctext.CaseMappingASCII, logx.Nop())
	if first, _ := tr2.IsFirstContact(ctx, "libera", "alice"); first {
		t.Fatal("contact history lost across restart")
	}
}
