package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ircnotify/internal/eventbus"
	"ircnotify/internal/telegram"
	"ircnotify/pkg/logx"
)

// fakeSender scripts per-attempt outcomes and records the delivered texts.
type fakeSender struct {
	mu    sync.Mutex
	errs  []error // consumed one per attempt; nil entry = success
	texts []string
	calls atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err == nil {
		f.texts = append(f.texts, text)
	}
	return err
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     16,
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func transientErr(status int) error {
	return &telegram.Error{Kind: telegram.KindTransient, StatusCode: status, Description: "try later"}
}

func permanentErr(status int) error {
	return &telegram.Error{Kind: telegram.KindPermanent, StatusCode: status, Description: "no"}
}

func collect(sub <-chan eventbus.Event, typ string, timeout time.Duration) (eventbus.Event, bool) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return eventbus.Event{}, false
			}
			if ev.Type == typ {
				return ev, true
			}
		case <-deadline:
			return eventbus.Event{}, false
		}
	}
}

func TestDeliverSuccess(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	s.Start(context.Background())

	n := Notification{Kind: KindMention, Title: "Mention", Body: "carol @ libera/#go: hey bob", Network: "libera", Context: "#go", Sender: "carol"}
	if err := s.Enqueue(n); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := collect(sub, eventbus.TypeSent, 2*time.Second); !ok {
		t.Fatal("no sent event")
	}
	s.Stop(context.Background())

	texts := snd.sent()
	if len(texts) != 1 || texts[0] != "Mention\ncarol @ libera/#go: hey bob" {
		t.Fatalf("delivered texts: %q", texts)
	}
}

func TestDeliverRetriesTransientThenFails(t *testing.T) {
	t.Parallel()
	// Four transient failures against max_retries=3: 1 initial + 3 retries,
	// then the notification is abandoned.
	snd := &fakeSender{errs: []error{transientErr(503), transientErr(503), transientErr(503), transientErr(503)}}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	s.Start(context.Background())

	if err := s.Enqueue(Notification{Kind: KindMention, Body: "x", Network: "libera", Context: "#go"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ev, ok := collect(sub, eventbus.TypeFailed, 2*time.Second)
	if !ok {
		t.Fatal("no failed event")
	}
	s.Stop(context.Background())

	if got := snd.calls.Load(); got != 4 {
		t.Fatalf("attempts = %d, want 4 (1 + 3 retries)", got)
	}
	data, ok := ev.Data.(eventbus.DeliveryEvent)
	if !ok || data.Error == "" {
		t.Fatalf("failed event payload: %+v", ev.Data)
	}
}

func TestDeliverRecoversMidRetry(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{errs: []error{transientErr(502), nil}}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	s.Start(context.Background())

	if err := s.Enqueue(Notification{Kind: KindFirstPM, Body: "x", Network: "libera", Context: "dave"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := collect(sub, eventbus.TypeSent, 2*time.Second); !ok {
		t.Fatal("no sent event after recovery")
	}
	s.Stop(context.Background())

	if got := snd.calls.Load(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
}

func TestDeliverPermanentErrorNoRetry(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{errs: []error{permanentErr(401)}}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(testConfig(), snd, logx.Nop(), bus, nil)
	s.Start(context.Background())

	if err := s.Enqueue(Notification{Kind: KindMention, Body: "x", Network: "libera", Context: "#go"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := collect(sub, eventbus.TypeFailed, 2*time.Second); !ok {
		t.Fatal("no failed event")
	}
	s.Stop(context.Background())

	if got := snd.calls.Load(); got != 1 {
		t.Fatalf("attempts = %d, want 1 (permanent errors are not retried)", got)
	}
}

// blockingSender holds every delivery until released, to keep the queue full.
type blockingSender struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSender) Send(ctx context.Context, text string) error {
	b.calls.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	snd := &blockingSender{release: make(chan struct{})}
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, snd, logx.Nop(), bus, nil)
	s.Start(context.Background())

	// First notification occupies the worker; wait until it is in flight so
	// the queue slot is actually free for the second one.
	if err := s.Enqueue(Notification{Kind: KindMention, Body: "a", Network: "n", Context: "#c"}); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for snd.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first notification")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Enqueue(Notification{Kind: KindMention, Body: "b", Network: "n", Context: "#c"}); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	err := s.Enqueue(Notification{Kind: KindMention, Body: "c", Network: "n", Context: "#c"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue 3: %v, want ErrQueueFull", err)
	}
	if _, ok := collect(sub, eventbus.TypeDropped, 2*time.Second); !ok {
		t.Fatal("no dropped event")
	}

	close(snd.release)
	s.Stop(context.Background())
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeSender{}, logx.Nop(), eventbus.New(), nil)
	s.Start(context.Background())

	if err := s.Enqueue(Notification{Kind: KindMention, Body: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue on disabled notifier: %v, want ErrDisabled", err)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(testConfig(), &fakeSender{}, logx.Nop(), eventbus.New(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Enqueue(Notification{Kind: KindMention, Body: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after stop: %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	s := New(testConfig(), snd, logx.Nop(), eventbus.New(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(Notification{Kind: KindMention, Body: "x", Network: "n", Context: "#c"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	s.Stop(context.Background())

	if got := len(snd.sent()); got != 5 {
		t.Fatalf("delivered %d notifications, want all 5 drained on stop", got)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 3, want: 4 * time.Second},
		{attempt: 5, want: 16 * time.Second},
		{attempt: 6, want: 30 * time.Second},
		{attempt: 10, want: 30 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffDelay(cfg, tt.attempt); got != tt.want {
			t.Fatalf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNotificationText(t *testing.T) {
	t.Parallel()
	n := Notification{Title: "Mention", Body: "body"}
	if n.Text() != "Mention\nbody" {
		t.Fatalf("Text() = %q", n.Text())
	}
	if (Notification{Body: "body"}).Text() != "body" {
		t.Fatal("title-less text should be the bare body")
	}
}
