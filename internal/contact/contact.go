// Package contact tracks which peers have privately messaged the owner
// before, backed by the durable state store.
package contact

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"ircnotify/internal/storage"
	"ircnotify/pkg/irctext"
	"ircnotify/pkg/logx"
)

// Tracker answers "is this the first private message from this peer?"
// exactly once per peer, across restarts.
//
// Atomicity: the store's insert-if-absent is the primitive; a striped
// per-key lock on top keeps two near-simultaneous messages from the same
// peer from racing past the existence check.
type Tracker struct {
	store   storage.Store
	casemap irctext.CaseMapping
	log     logx.Logger

	locks [64]sync.Mutex
}

func NewTracker(store storage.Store, casemap irctext.CaseMapping, log logx.Logger) *Tracker {
	if casemap == "" {
		casemap = irctext.CaseMappingASCII
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{store: store, casemap: casemap, log: log}
}

// IsFirstContact reports whether (network, nick) has never messaged the
// owner before, recording the contact when it is indeed first.
//
// On a store error the result is false: the caller cannot determine
// first-contact and must skip the notification rather than risk a double.
func (t *Tracker) IsFirstContact(ctx context.Context, network, nick string) (bool, error) {
	folded := t.casemap.Fold(nick)

	mu := t.lockFor(network, folded)
	mu.Lock()
	defer mu.Unlock()

	inserted, err := t.store.InsertContactIfAbsent(ctx, network, folded, time.Now())
	if err != nil {
		return false, err
	}
	if inserted {
		t.log.Debug("first contact recorded",
			logx.String("network", network),
			logx.String("nick", folded))
	}
	return inserted, nil
}

// Known reports whether a contact record exists, without creating one.
func (t *Tracker) Known(ctx context.Context, network, nick string) (bool, error) {
	_, ok, err := t.store.GetContact(ctx, network, t.casemap.Fold(nick))
	return ok, err
}

// Forget removes the contact record so the next private message from the
// peer notifies again. This is the only deletion path.
func (t *Tracker) Forget(ctx context.Context, network, nick string) error {
	folded := t.casemap.Fold(nick)

	mu := t.lockFor(network, folded)
	mu.Lock()
	defer mu.Unlock()

	return t.store.DeleteContact(ctx, network, folded)
}

func (t *Tracker) lockFor(network, folded string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(network))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(folded))
	return &t.locks[h.Sum32()%uint32(len(t.locks))]
}
