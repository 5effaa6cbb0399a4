// Package dispatch is the hook-facing entry point of the relay: it routes
// inbound messages to the detectors, builds notification payloads, and hands
// them to the async delivery pipeline.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"ircnotify/internal/contact"
	"ircnotify/internal/hook"
	"ircnotify/internal/mention"
	"ircnotify/internal/notifier"
	"ircnotify/internal/storage"
	"ircnotify/pkg/irctext"
	"ircnotify/pkg/logx"
)

// Titles and body templates for the two notable event kinds. The templates
// mirror the classic bouncer notify format: "sender @ network/channel: text".
const (
	titleMention = "Mention"
	titleFirstPM = "First message"

	defaultTruncateAt = 400
)

// Settings is the immutable routing configuration snapshot. A reload builds
// a new Settings and swaps it whole; events in flight keep the one they
// started with.
type Settings struct {
	Rule mention.Rule

	NotifyOnMention        bool
	NotifyOnFirstPM        bool
	NotifyOnPrivateMention bool // opt-in: also scan queries for mentions

	TruncateAt int // rune cap for message text in the payload body

	detector *mention.Detector
}

// NewSettings compiles the mention detector once per snapshot.
func NewSettings(s Settings) *Settings {
	if s.TruncateAt <= 0 {
		s.TruncateAt = defaultTruncateAt
	}
	s.detector = mention.NewDetector(s.Rule)
	return &s
}

// Dispatcher implements hook.EventHandler. All methods return promptly:
// delivery happens on the notifier's workers, and every failure terminates
// in a log entry rather than propagating into the host pipeline.
type Dispatcher struct {
	log     logx.Logger
	tracker *contact.Tracker
	notif   *notifier.Service
	store   storage.Store

	settings atomic.Pointer[Settings]

	// storeTimeout bounds state lookups on the hook path.
	storeTimeout time.Duration
}

func New(settings *Settings, tracker *contact.Tracker, notif *notifier.Service, store storage.Store, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		log:          log,
		tracker:      tracker,
		notif:        notif,
		store:        store,
		storeTimeout: 2 * time.Second,
	}
	if settings == nil {
		settings = NewSettings(Settings{})
	}
	d.settings.Store(settings)
	return d
}

// Apply atomically swaps the routing settings.
func (d *Dispatcher) Apply(settings *Settings) {
	if settings == nil {
		return
	}
	d.settings.Store(settings)
}

// HandleChannelMessage checks a channel message for mentions.
func (d *Dispatcher) HandleChannelMessage(m hook.Message) {
	s := d.settings.Load()
	if !s.NotifyOnMention {
		return
	}
	if !s.detector.Match(m.Text) {
		return
	}
	if d.channelMuted(m.Network, m.Target) {
		d.log.Debug("mention suppressed (channel muted)",
			logx.String("network", m.Network),
			logx.String("channel", m.Target))
		return
	}
	d.enqueue(notifier.Notification{
		Kind:    notifier.KindMention,
		Title:   titleMention,
		Body:    fmt.Sprintf("%s @ %s/%s: %s", m.Sender, m.Network, m.Target, d.clip(s, m.Text)),
		Network: m.Network,
		Context: m.Target,
		Sender:  m.Sender,
	})
}

// HandlePrivateMessage checks a query for first contact and, when opted in,
// for mentions. The two triggers are independent.
func (d *Dispatcher) HandlePrivateMessage(m hook.Message) {
	s := d.settings.Load()

	if s.NotifyOnFirstPM {
		ctx, cancel := context.WithTimeout(context.Background(), d.storeTimeout)
		first, err := d.tracker.IsFirstContact(ctx, m.Network, m.Sender)
		cancel()
		switch {
		case err != nil:
			// Cannot determine first-contact; skip rather than risk a
			// double notification.
			d.log.Error("first-contact check failed; notification skipped",
				logx.Err(err),
				logx.String("network", m.Network),
				logx.String("nick", m.Sender))
		case first:
			d.enqueue(notifier.Notification{
				Kind:    notifier.KindFirstPM,
				Title:   titleFirstPM,
				Body:    fmt.Sprintf("%s @ %s: %s", m.Sender, m.Network, d.clip(s, m.Text)),
				Network: m.Network,
				Context: m.Sender,
				Sender:  m.Sender,
			})
		}
	}

	if s.NotifyOnPrivateMention && s.detector.Match(m.Text) {
		d.enqueue(notifier.Notification{
			Kind:    notifier.KindMention,
			Title:   titleMention,
			Body:    fmt.Sprintf("%s @ %s: %s", m.Sender, m.Network, d.clip(s, m.Text)),
			Network: m.Network,
			Context: m.Sender,
			Sender:  m.Sender,
		})
	}
}

// Forget clears the first-contact record for a peer (administrative reset).
func (d *Dispatcher) Forget(ctx context.Context, network, nick string) error {
	return d.tracker.Forget(ctx, network, nick)
}

// MuteChannel suppresses mention notifications for a channel until the given
// instant (zero time = until unmuted).
func (d *Dispatcher) MuteChannel(ctx context.Context, network, channel string, until time.Time) error {
	if d.store == nil {
		return nil
	}
	return d.store.PutMute(ctx, network, channel, until)
}

// UnmuteChannel re-enables mention notifications for a channel.
func (d *Dispatcher) UnmuteChannel(ctx context.Context, network, channel string) error {
	if d.store == nil {
		return nil
	}
	return d.store.DeleteMute(ctx, network, channel)
}

func (d *Dispatcher) channelMuted(network, channel string) bool {
	if d.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.storeTimeout)
	defer cancel()
	until, ok, err := d.store.GetMute(ctx, network, channel)
	if err != nil {
		// Fail open: a broken store must not silence mentions.
		d.log.Warn("mute lookup failed", logx.Err(err))
		return false
	}
	return storage.Muted(until, ok, time.Now())
}

func (d *Dispatcher) enqueue(n notifier.Notification) {
	if err := d.notif.Enqueue(n); err != nil {
		d.log.Warn("notification not queued",
			logx.Err(err),
			logx.String("kind", n.Kind),
			logx.String("network", n.Network),
			logx.String("context", n.Context))
	}
}

func (d *Dispatcher) clip(s *Settings, text string) string {
	return irctext.Truncate(irctext.StripFormatting(text), s.TruncateAt)
}
