package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	sendTimeout    = 3 * time.Second
)

// Notifier posts messages to one Telegram chat through the Bot API.
type Notifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	logger  ports.Logger
}

// Compile-time checks
var (
	_ ports.Notifier = (*Notifier)(nil)
	_ ports.Notifier = Nop{}
)

// New returns a Notifier, or Nop when credentials are missing.
func New(token, chatID string, logger ports.Logger) ports.Notifier {
	if token == "" || chatID == "" {
		logger.Warn(context.Background(), "Telegram credentials missing, notifications disabled")
		return Nop{}
	}
	return &Notifier{
		token:   token,
		chatID:  chatID,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: sendTimeout},
		logger:  logger,
	}
}

// Notify sends msg prefixed with its severity. Failures are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, msg string, severity domain.Severity) {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    fmt.Sprintf("[%s] %s", severity, msg),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn(ctx, "Telegram request build failed", map[string]interface{}{"error": err.Error()})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn(ctx, "Telegram notify failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn(ctx, "Telegram API error", map[string]interface{}{"status": resp.Status})
	}
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(ctx context.Context, msg string, severity domain.Severity) {}
