package hook

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ircnotify/pkg/logx"
)

// wireEvent is the JSON Lines shape a host bridge writes, one event per line:
//
//	{"network":"libera","from":"alice","target":"#go","private":false,"text":"hi","ts":1724800000}
//
// Unknown fields are ignored so host bridges can carry extra context.
type wireEvent struct {
	Network string `json:"network"`
	From    string `json:"from"`
	Target  string `json:"target"`
	Private bool   `json:"private"`
	Text    string `json:"text"`
	TS      int64  `json:"ts,omitempty"` // unix seconds; 0 means "now"
}

func (w wireEvent) message() Message {
	m := Message{
		Network: w.Network,
		Sender:  w.From,
		Target:  w.Target,
		Private: w.Private,
		Text:    w.Text,
	}
	if w.TS > 0 {
		m.Time = time.Unix(w.TS, 0)
	}
	return m
}

// maxEventLine bounds a single feed line; IRC messages are tiny, anything
// bigger is a broken bridge.
const maxEventLine = 64 * 1024

// Feed reads JSONL events from r until EOF or ctx cancellation, dispatching
// each to h. Malformed lines are logged and skipped; they never stop the feed.
func Feed(ctx context.Context, r io.Reader, h EventHandler, log logx.Logger) error {
	if log.IsZero() {
		log = logx.Nop()
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxEventLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev wireEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Warn("malformed feed event skipped", logx.Err(err))
			continue
		}
		if ev.Network == "" || ev.From == "" {
			log.Warn("feed event missing network/from; skipped")
			continue
		}
		Dispatch(h, ev.message())
	}
	return sc.Err()
}

// SocketFeed accepts host bridge connections on a unix socket and feeds
// each connection's JSONL stream to h. It returns when ctx is cancelled.
type SocketFeed struct {
	Path    string
	Handler EventHandler
	Log     logx.Logger
}

func (s *SocketFeed) Run(ctx context.Context) error {
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	// A previous unclean shutdown leaves the socket file behind.
	_ = os.Remove(s.Path)

	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(s.Path)
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info("host feed listening", logx.String("socket", s.Path))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("feed accept failed", logx.Err(err))
			continue
		}
		go func(c net.Conn) {
			defer c.Close()
			if err := Feed(ctx, c, s.Handler, log); err != nil && ctx.Err() == nil {
				log.Warn("feed connection ended with error", logx.Err(err))
			}
		}(conn)
	}
}
