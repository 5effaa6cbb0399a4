package notifier

import (
	"context"
	"time"
)

// Kind of notable event a notification describes.
const (
	KindMention = "mention"
	KindFirstPM = "first_pm"
)

// Notification is the formatted payload handed to the delivery pipeline.
// It is built once per notable event and consumed exactly once.
type Notification struct {
	Kind    string
	Title   string
	Body    string
	Network string
	Context string // channel for mentions, peer nick for private messages
	Sender  string
}

// Text renders the outbound message.
func (n Notification) Text() string {
	if n.Title == "" {
		return n.Body
	}
	return n.Title + "\n" + n.Body
}

// Sender performs one outbound delivery attempt.
// Implementations classify failures (see internal/telegram).
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config controls the async delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int           // retries after the first attempt
	RetryBase     time.Duration // first backoff delay
	RetryMaxDelay time.Duration // backoff cap
}
