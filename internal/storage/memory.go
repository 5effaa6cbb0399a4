package storage

import (
	"context"
	"sync"
	"time"
)

// memoryStore keeps all state in process memory. It exists for tests and for
// running the relay without durability (driver "memory"); first-contact
// history then resets on every restart.
type memoryStore struct {
	mu         sync.Mutex
	contacts   map[string]int64
	mutes      map[string]int64
	deliveries []DeliveryEntry
	closed     bool
}

// NewMemory returns a volatile in-process store.
func NewMemory() Store {
	return &memoryStore{
		contacts: map[string]int64{},
		mutes:    map[string]int64{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) InsertContactIfAbsent(ctx context.Context, network, nick string, firstSeen time.Time) (bool, error) {
	_ = ctx
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	key := stateKey(network, nick)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.contacts[key]; ok {
		return false, nil
	}
	s.contacts[key] = firstSeen.UnixMilli()
	return true, nil
}

func (s *memoryStore) GetContact(ctx context.Context, network, nick string) (ContactRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ContactRecord{}, false, ErrClosed
	}
	ms, ok := s.contacts[stateKey(network, nick)]
	if !ok {
		return ContactRecord{}, false, nil
	}
	return ContactRecord{Network: network, Nick: nick, FirstSeenAt: time.UnixMilli(ms)}, true, nil
}

func (s *memoryStore) DeleteContact(ctx context.Context, network, nick string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.contacts, stateKey(network, nick))
	return nil
}

func (s *memoryStore) PutMute(ctx context.Context, network, channel string, until time.Time) error {
	_ = ctx
	var ms int64
	if !until.IsZero() {
		ms = until.UnixMilli()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.mutes[stateKey(network, channel)] = ms
	return nil
}

func (s *memoryStore) GetMute(ctx context.Context, network, channel string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}
	ms, ok := s.mutes[stateKey(network, channel)]
	if !ok {
		return time.Time{}, false, nil
	}
	if ms == 0 {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *memoryStore) DeleteMute(ctx context.Context, network, channel string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.mutes, stateKey(network, channel))
	return nil
}

func (s *memoryStore) PruneMutes(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	cutoff := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for key, ms := range s.mutes {
		if ms > 0 && ms < cutoff {
			delete(s.mutes, key)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.deliveries = append(s.deliveries, e)
	return nil
}

func (s *memoryStore) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	keep := s.deliveries[:0]
	removed := 0
	for _, e := range s.deliveries {
		if e.At.Before(olderThan) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	s.deliveries = keep
	return removed, nil
}
