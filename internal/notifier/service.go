package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ircnotify/internal/eventbus"
	rtsup "ircnotify/internal/runtime/supervisor"
	"ircnotify/internal/storage"
	"ircnotify/internal/telegram"
	"ircnotify/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service implements the async delivery pipeline:
// queue + worker pool + rate limit + bounded retry.
//
// The enqueue path is O(1) and lossy (full queue drops with an event) so the
// host-facing dispatch never blocks on network I/O.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	sender  Sender
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup

	queue    chan Notification
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, store: store, sender: sender}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps delivery configuration. In-flight deliveries keep the snapshot
// they started with; queued items pick up the new one.
func (s *Service) Apply(cfg Config, sender Sender) {
	s.mu.Lock()
	if sender != nil {
		s.sender = sender
	}
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't stall workers.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Notification, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.Go(name, func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
}

// Stop blocks intake and drains the queue best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain.
		s.enqueueWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Force-stop workers; an abandoned in-flight retry loop is acceptable.
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Enqueue hands a notification to the pipeline without blocking.
func (s *Service) Enqueue(n Notification) error {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- n:
		s.publish(eventbus.TypeQueued, n, nil)
		return nil
	default:
		s.publish(eventbus.TypeDropped, n, ErrQueueFull)
		s.recordOutcome(n, "dropped", 0, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

// deliver runs the bounded retry loop for one notification.
// Worst case it holds its worker for timeout*(retries+1) plus backoff sleep.
func (s *Service) deliver(ctx context.Context, n Notification) {
	// Config snapshot for this delivery.
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.sender
	s.mu.Unlock()

	if snd == nil {
		return
	}

	text := n.Text()
	if text == "" {
		return
	}

	maxAttempts := 1 + cfg.RetryMax
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		err := snd.Send(ctx, text)
		if err == nil {
			s.publish(eventbus.TypeSent, n, nil)
			s.recordOutcome(n, "sent", attempt, time.Since(start), nil)
			return
		}
		lastErr = err
		s.log.Debug("delivery attempt failed",
			logx.Err(err),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.String("kind", n.Kind))

		if !telegram.Retryable(err) || attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		var te *telegram.Error
		if errors.As(err, &te) && te.RetryAfter > delay {
			delay = te.RetryAfter
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.publish(eventbus.TypeFailed, n, lastErr)
	s.recordOutcome(n, "failed", attempts, time.Since(start), lastErr)
	s.log.Warn("delivery failed",
		logx.Err(lastErr),
		logx.String("kind", n.Kind),
		logx.String("network", n.Network),
		logx.String("context", n.Context))
}

// backoffDelay doubles RetryBase per attempt, capped at RetryMaxDelay.
func backoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	if d > cfg.RetryMaxDelay {
		return cfg.RetryMaxDelay
	}
	return d
}

func (s *Service) publish(typ string, n Notification, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.DeliveryEvent{Kind: n.Kind, Network: n.Network, Context: n.Context}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) recordOutcome(n Notification, outcome string, attempts int, took time.Duration, err error) {
	if s.store == nil {
		return
	}
	e := storage.DeliveryEntry{
		At:       time.Now(),
		Kind:     n.Kind,
		Network:  n.Network,
		Sender:   n.Sender,
		Outcome:  outcome,
		Attempts: attempts,
		TookMS:   took.Milliseconds(),
	}
	if n.Kind == KindMention {
		e.Channel = n.Context
	}
	if err != nil {
		e.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if werr := s.store.AppendDelivery(ctx, e); werr != nil {
		s.log.Debug("delivery log write failed", logx.Err(werr))
	}
}
