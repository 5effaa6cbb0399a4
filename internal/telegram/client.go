// Package telegram implements the outbound half of the Telegram Bot API
// used by the relay: a single sendMessage POST per notification.
//
// Errors carry a classification (config / transient / permanent) so the
// delivery pipeline can decide whether a retry makes sense.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ircnotify/pkg/logx"
)

const defaultBaseURL = "https://api.telegram.org"

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// KindConfig: missing/invalid token or chat id. Never retried, and no
	// network call is made.
	KindConfig ErrorKind = iota
	// KindTransient: network error, timeout, 429 or 5xx. Retryable.
	KindTransient
	// KindPermanent: any other 4xx or a malformed payload. Not retried.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified delivery failure.
type Error struct {
	Kind        ErrorKind
	StatusCode  int           // HTTP status, 0 for network-level failures
	Code        int           // Telegram error_code, if the envelope parsed
	Description string        // Telegram description or transport error text
	RetryAfter  time.Duration // from 429 parameters.retry_after, if present
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("telegram send failed (%s): %s", e.Kind, e.Description)
	}
	return fmt.Sprintf("telegram send failed (%s, http=%d): %s", e.Kind, e.StatusCode, e.Description)
}

// Retryable reports whether err is a transient delivery failure.
func Retryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindTransient
	}
	// Unclassified errors (context timeouts from the HTTP client, etc.)
	// are treated as transient.
	return err != nil && !errors.Is(err, context.Canceled)
}

// Config is the immutable delivery target for one client instance.
type Config struct {
	Token    string
	ChatID   string // numeric id or @channelname
	ThreadID int    // forum topic to reply into (0 if none)
	BaseURL  string // override for tests; default api.telegram.org
	Timeout  time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg: cfg,
		// Per-attempt deadlines come from the request context; keep the
		// client-level timeout as a backstop slightly above it.
		http: &http.Client{Timeout: cfg.Timeout + 2*time.Second},
		log:  log,
	}
}

// Validate reports a config error without any network call.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.cfg.Token) == "" {
		return &Error{Kind: KindConfig, Description: "bot token is not set"}
	}
	if strings.TrimSpace(c.cfg.ChatID) == "" {
		return &Error{Kind: KindConfig, Description: "chat_id is not set"}
	}
	return nil
}

type sendMessageRequest struct {
	ChatID             json.RawMessage `json:"chat_id"`
	Text               string          `json:"text"`
	MessageThreadID    int             `json:"message_thread_id,omitempty"`
	DisableWebPagePrev bool            `json:"disable_web_page_preview,omitempty"`
}

type apiEnvelope struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send performs exactly one sendMessage call. Retry policy lives in the
// caller; Send only classifies the outcome.
func (c *Client) Send(ctx context.Context, text string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	payload := sendMessageRequest{
		ChatID:             chatIDValue(c.cfg.ChatID),
		Text:               text,
		MessageThreadID:    c.cfg.ThreadID,
		DisableWebPagePrev: true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: KindPermanent, Description: "marshal payload: " + err.Error()}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/bot" + strings.TrimSpace(c.cfg.Token) + "/sendMessage"

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindPermanent, Description: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return &Error{Kind: KindTransient, Description: err.Error()}
	}
	defer resp.Body.Close()

	var out apiEnvelope
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 == 2 && out.OK {
		return nil
	}
	return classify(resp.StatusCode, out)
}

func classify(status int, out apiEnvelope) *Error {
	e := &Error{
		StatusCode:  status,
		Code:        out.ErrorCode,
		Description: out.Description,
	}
	if e.Description == "" {
		e.Description = http.StatusText(status)
	}
	switch {
	case status == http.StatusTooManyRequests:
		e.Kind = KindTransient
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			e.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
	case status >= 500:
		e.Kind = KindTransient
	case status >= 400:
		e.Kind = KindPermanent
	default:
		// 2xx with ok=false, or anything else unexpected.
		e.Kind = KindPermanent
	}
	return e
}

// chatIDValue renders the chat id as a JSON number when it is numeric and as
// a string otherwise (@channelname targets).
func chatIDValue(id string) json.RawMessage {
	id = strings.TrimSpace(id)
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}
