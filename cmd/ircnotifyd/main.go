package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"

	"ircnotify/internal/app"
	"ircnotify/internal/eventbus"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyReady)
	go watchdog(ctx)
	go statusLine(ctx, a.Bus())

	<-ctx.Done()
	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}

// watchdog pets systemd's watchdog when one is configured for the unit.
func watchdog(ctx context.Context) {
	interval, err := sdaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyWatchdog)
		}
	}
}

// statusLine mirrors delivery counters into the systemd status field.
func statusLine(ctx context.Context, bus eventbus.Bus) {
	sub, unsub := bus.Subscribe(64)
	defer unsub()

	var sent, failed, dropped uint64
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch ev.Type {
			case eventbus.TypeSent:
				sent++
			case eventbus.TypeFailed:
				failed++
			case eventbus.TypeDropped:
				dropped++
			default:
				continue
			}
			_, _ = sdaemon.SdNotify(false, fmt.Sprintf(
				"STATUS=notifications sent=%d failed=%d dropped=%d", sent, failed, dropped))
		}
	}
}
