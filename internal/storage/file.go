package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ircnotify/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.snapshot.json (periodic snapshot of contacts + mutes)
//   - <prefix>.state.journal.jsonl (append-only journal)
//   - <prefix>.deliveries.jsonl    (append-only delivery log)
//
// The journal is periodically compacted into the snapshot. Delivery pruning
// rewrites the delivery log in place (it is small and append-mostly).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	journalPath  string

	deliveryPath string
	deliveryFile *os.File

	contacts map[string]int64 // key -> first_seen unix milli
	mutes    map[string]int64 // key -> until unix milli (0 = indefinite)

	writes int
}

type journalRecord struct {
	Op  string `json:"op"` // contact | forget | mute | unmute
	Key string `json:"key"`
	MS  int64  `json:"ms,omitempty"`
}

type stateSnapshot struct {
	Contacts map[string]int64 `json:"contacts"`
	Mutes    map[string]int64 `json:"mutes"`
}

type deliveryRecord struct {
	At       int64  `json:"at"`
	Kind     string `json:"kind"`
	Network  string `json:"network"`
	Channel  string `json:"channel,omitempty"`
	Sender   string `json:"sender"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
	TookMS   int64  `json:"took_ms,omitempty"`
}

const keySep = "\x1f"

func stateKey(a, b string) string { return a + keySep + b }

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"
	deliveryPath := prefix + ".deliveries.jsonl"

	contacts := map[string]int64{}
	mutes := map[string]int64{}
	_ = loadSnapshot(snapPath, contacts, mutes)
	_ = replayJournal(journalPath, contacts, mutes)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	df, err := os.OpenFile(deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		journalPath:  journalPath,
		deliveryPath: deliveryPath,
		deliveryFile: df,
		contacts:     contacts,
		mutes:        mutes,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.journalFile != nil {
		err1 = s.journalFile.Close()
		s.journalFile = nil
	}
	if s.deliveryFile != nil {
		err2 = s.deliveryFile.Close()
		s.deliveryFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) InsertContactIfAbsent(ctx context.Context, network, nick string, firstSeen time.Time) (bool, error) {
	_ = ctx
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	key := stateKey(network, nick)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.contacts[key]; ok {
		return false, nil
	}
	ms := firstSeen.UnixMilli()
	if err := s.appendLocked(journalRecord{Op: "contact", Key: key, MS: ms}); err != nil {
		return false, err
	}
	s.contacts[key] = ms
	return true, nil
}

func (s *fileStore) GetContact(ctx context.Context, network, nick string) (ContactRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.contacts[stateKey(network, nick)]
	if !ok {
		return ContactRecord{}, false, nil
	}
	return ContactRecord{Network: network, Nick: nick, FirstSeenAt: time.UnixMilli(ms)}, true, nil
}

func (s *fileStore) DeleteContact(ctx context.Context, network, nick string) error {
	_ = ctx
	key := stateKey(network, nick)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.contacts[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "forget", Key: key}); err != nil {
		return err
	}
	delete(s.contacts, key)
	return nil
}

func (s *fileStore) PutMute(ctx context.Context, network, channel string, until time.Time) error {
	_ = ctx
	key := stateKey(network, channel)
	var ms int64
	if !until.IsZero() {
		ms = until.UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := s.appendLocked(journalRecord{Op: "mute", Key: key, MS: ms}); err != nil {
		return err
	}
	s.mutes[key] = ms
	return nil
}

func (s *fileStore) GetMute(ctx context.Context, network, channel string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.mutes[stateKey(network, channel)]
	if !ok {
		return time.Time{}, false, nil
	}
	if ms == 0 {
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) DeleteMute(ctx context.Context, network, channel string) error {
	_ = ctx
	key := stateKey(network, channel)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if _, ok := s.mutes[key]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "unmute", Key: key}); err != nil {
		return err
	}
	delete(s.mutes, key)
	return nil
}

func (s *fileStore) PruneMutes(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	cutoff := now.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, ErrClosed
	}
	n := 0
	for key, ms := range s.mutes {
		if ms > 0 && ms < cutoff {
			if err := s.appendLocked(journalRecord{Op: "unmute", Key: key}); err != nil {
				return n, err
			}
			delete(s.mutes, key)
			n++
		}
	}
	return n, nil
}

func (s *fileStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r := deliveryRecord{
		At:       e.At.UnixMilli(),
		Kind:     e.Kind,
		Network:  e.Network,
		Channel:  e.Channel,
		Sender:   e.Sender,
		Outcome:  e.Outcome,
		Attempts: e.Attempts,
		Error:    e.Error,
		TookMS:   e.TookMS,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.deliveryFile).Encode(r)
}

func (s *fileStore) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	cutoff := olderThan.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return 0, ErrClosed
	}

	f, err := os.Open(s.deliveryPath)
	if err != nil {
		return 0, err
	}
	var keep []deliveryRecord
	removed := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r deliveryRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.At < cutoff {
			removed++
			continue
		}
		keep = append(keep, r)
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return 0, scanErr
	}
	if removed == 0 {
		return 0, nil
	}

	tmp := s.deliveryPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(out)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	// Swap the live append handle to the rewritten file.
	_ = s.deliveryFile.Close()
	if err := os.Rename(tmp, s.deliveryPath); err != nil {
		s.deliveryFile, _ = os.OpenFile(s.deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	df, err := os.OpenFile(s.deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return removed, err
	}
	s.deliveryFile = df
	return removed, nil
}

func (s *fileStore) compactLocked() error {
	snap := stateSnapshot{Contacts: s.contacts, Mutes: s.mutes}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, contacts, mutes map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap stateSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for k, v := range snap.Contacts {
		contacts[k] = v
	}
	for k, v := range snap.Mutes {
		mutes[k] = v
	}
	return nil
}

func replayJournal(path string, contacts, mutes map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		switch r.Op {
		case "contact":
			contacts[r.Key] = r.MS
		case "forget":
			delete(contacts, r.Key)
		case "mute":
			mutes[r.Key] = r.MS
		case "unmute":
			delete(mutes, r.Key)
		}
	}
	return sc.Err()
}
