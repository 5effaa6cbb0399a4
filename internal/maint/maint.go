// Package maint runs periodic state-store upkeep: expired channel mutes and
// delivery log retention. Contact records are deliberately untouched; they
// only ever go away through an explicit forget.
package maint

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"ircnotify/internal/storage"
	"ircnotify/pkg/logx"
)

const (
	defaultSchedule  = "@hourly"
	defaultRetention = 30 * 24 * time.Hour
)

type Config struct {
	Enabled           bool
	Schedule          string // cron expression, "@hourly" style accepted
	DeliveryRetention time.Duration
}

type Service struct {
	cfg   Config
	store storage.Store
	log   logx.Logger

	cron *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.DeliveryRetention <= 0 {
		cfg.DeliveryRetention = defaultRetention
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, store: store, log: log}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled || s.store == nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info("maintenance scheduled",
		logx.String("schedule", s.cfg.Schedule),
		logx.Duration("delivery_retention", s.cfg.DeliveryRetention))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.cron = nil
}

// Sweep runs one upkeep pass immediately (also used by tests).
func (s *Service) Sweep() { s.sweep() }

func (s *Service) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	if n, err := s.store.PruneMutes(ctx, now); err != nil {
		s.log.Warn("mute prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Debug("expired mutes pruned", logx.Int("count", n))
	}

	cutoff := now.Add(-s.cfg.DeliveryRetention)
	if n, err := s.store.PruneDeliveries(ctx, cutoff); err != nil {
		s.log.Warn("delivery log prune failed", logx.Err(err))
	} else if n > 0 {
		s.log.Debug("old delivery entries pruned", logx.Int("count", n))
	}
}
