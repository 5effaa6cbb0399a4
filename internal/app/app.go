// Package app assembles the relay: config, logging, storage, detectors,
// delivery pipeline, host feed, and maintenance.
package app

import (
	"context"
	"os"
	"time"

	"ircnotify/internal/config"
	"ircnotify/internal/contact"
	"ircnotify/internal/dispatch"
	"ircnotify/internal/eventbus"
	"ircnotify/internal/hook"
	"ircnotify/internal/maint"
	"ircnotify/internal/mention"
	"ircnotify/internal/notifier"
	rtsup "ircnotify/internal/runtime/supervisor"
	"ircnotify/internal/storage"
	"ircnotify/internal/telegram"
	"ircnotify/pkg/irctext"
	"ircnotify/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store

	tracker    *contact.Tracker
	notif      *notifier.Service
	dispatcher *dispatch.Dispatcher
	maint      *maint.Service

	sup *rtsup.Supervisor

	// restart-only settings, remembered for reload warnings
	casemapping string
	storageCfg  config.StorageConfig
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()

	casemap := irctext.ParseCaseMapping(cfg.Relay.CaseMapping)
	tracker := contact.NewTracker(store, casemap, log.With(logx.String("comp", "contact")))

	notifCfg, sender, err := deliveryConfig(cfg, log)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	notif := notifier.New(notifCfg, sender, log.With(logx.String("comp", "notifier")), bus, store)

	dispatcher := dispatch.New(relaySettings(cfg), tracker, notif, store,
		log.With(logx.String("comp", "dispatch")))

	retention, err := config.ParseDurationField("maintenance.delivery_retention", maintRetention(cfg))
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	maintSvc := maint.New(maint.Config{
		Enabled:           cfg.Maintenance.IsEnabled(),
		Schedule:          maintSchedule(cfg),
		DeliveryRetention: retention,
	}, store, log.With(logx.String("comp", "maint")))

	return &App{
		cfgm:        cfgm,
		logs:        logs,
		log:         log,
		bus:         bus,
		store:       store,
		tracker:     tracker,
		notif:       notif,
		dispatcher:  dispatcher,
		maint:       maintSvc,
		casemapping: cfg.Relay.CaseMapping,
		storageCfg:  cfg.Storage,
	}, nil
}

func (a *App) Bus() eventbus.Bus                { return a.bus }
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *App) Handler() hook.EventHandler       { return a.dispatcher }
func (a *App) Logger() logx.Logger              { return a.log }

// Start brings up the pipeline, the config watcher, and the host feed.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.notif.Start(ctx)
	if err := a.maint.Start(); err != nil {
		return err
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c)
		return nil
	})

	switch {
	case cfg.Feed.Stdin:
		a.sup.Go("feed.stdin", func(c context.Context) error {
			err := hook.Feed(c, os.Stdin, a.dispatcher, a.log.With(logx.String("comp", "feed")))
			if err == nil && c.Err() == nil {
				a.log.Info("stdin feed reached EOF; host bridge disconnected")
			}
			return err
		})
	case cfg.Feed.Socket != "":
		feed := &hook.SocketFeed{
			Path:    cfg.Feed.Socket,
			Handler: a.dispatcher,
			Log:     a.log.With(logx.String("comp", "feed")),
		}
		a.sup.GoRestart("feed.socket", feed.Run)
	default:
		a.log.Warn("no host feed configured (feed.socket / feed.stdin); relay is idle")
	}

	a.log.Info("relay started")
	return nil
}

// Stop drains the pipeline and releases resources.
func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
		a.sup = nil
	}
	a.maint.Stop(ctx)
	a.notif.Stop(ctx)
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("relay stopped")
	return a.logs.Close()
}

// reloadLoop applies validated config snapshots published by the manager.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(cfg)
		}
	}
}

// apply swaps runtime configuration atomically: logging, mention rule and
// toggles, delivery target, pipeline knobs. Storage backend, casemapping,
// and the feed endpoint only change on restart.
func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(logConfig(cfg))

	if cfg.Relay.CaseMapping != a.casemapping {
		a.log.Warn("relay.casemapping changed; restart required to take effect")
	}
	if cfg.Storage != a.storageCfg {
		a.log.Warn("storage settings changed; restart required to take effect")
	}

	notifCfg, sender, err := deliveryConfig(cfg, a.log)
	if err != nil {
		// Validate() runs before publish, so this is unexpected.
		a.log.Error("reload produced invalid delivery config; keeping previous", logx.Err(err))
		return
	}
	a.notif.Apply(notifCfg, sender)
	a.dispatcher.Apply(relaySettings(cfg))
	a.log.Info("configuration applied")
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func relaySettings(cfg *config.Config) *dispatch.Settings {
	return dispatch.NewSettings(dispatch.Settings{
		Rule: mention.Rule{
			OwnerNick:     cfg.Relay.OwnerNick,
			Aliases:       cfg.Relay.Aliases,
			CaseSensitive: cfg.Relay.CaseSensitive,
		},
		NotifyOnMention:        cfg.Relay.MentionEnabled(),
		NotifyOnFirstPM:        cfg.Relay.FirstPMEnabled(),
		NotifyOnPrivateMention: cfg.Relay.NotifyOnPrivateMention,
		TruncateAt:             cfg.Relay.TruncateAt,
	})
}

func deliveryConfig(cfg *config.Config, log logx.Logger) (notifier.Config, notifier.Sender, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", cfg.Notifier.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, nil, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, nil, err
	}

	sender := telegram.New(telegram.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Telegram.ChatID,
		ThreadID: cfg.Telegram.ThreadMessageID,
		BaseURL:  cfg.Telegram.Endpoint,
		Timeout:  timeout,
	}, log.With(logx.String("comp", "telegram")))

	return notifier.Config{
		Enabled:       cfg.Notifier.IsEnabled(),
		Workers:       cfg.Notifier.Workers,
		QueueSize:     cfg.Notifier.QueueSize,
		RatePerSec:    cfg.Notifier.RatePerSec,
		RetryMax:      cfg.Notifier.Retries(),
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
	}, sender, nil
}

func maintSchedule(cfg *config.Config) string {
	if cfg.Maintenance == nil {
		return ""
	}
	return cfg.Maintenance.Schedule
}

func maintRetention(cfg *config.Config) string {
	if cfg.Maintenance == nil {
		return ""
	}
	return cfg.Maintenance.DeliveryRetention
}
