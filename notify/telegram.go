// Package notify delivers best-effort operator notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/metrics"
)

// Notifier sends a human-readable message to the operator. Failures
// must never affect trading; implementations log and move on.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Telegram sends messages via the Bot API sendMessage method.
type Telegram struct {
	baseURL string
	chatID  string
	client  *http.Client
	log     logger.Logger
	enabled bool
}

// NewTelegram builds a notifier for the given bot token and chat.
// Empty token or chat disables it.
func NewTelegram(token, chatID string, log logger.Logger) *Telegram {
	return &Telegram{
		baseURL: "https://api.telegram.org/bot" + token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
		enabled: token != "" && chatID != "",
	}
}

// Notify posts text to the configured chat. Errors are logged and
// counted, never returned.
func (t *Telegram) Notify(ctx context.Context, text string) {
	if !t.enabled {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("telegram").Inc()
		t.log.Warn("telegram send failed", logger.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		metrics.ExternalFailures.WithLabelValues("telegram").Inc()
		t.log.Warn("telegram send failed",
			logger.Err(fmt.Errorf("status %d", resp.StatusCode)))
	}
}

// Nop is a disabled notifier.
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)
