package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification kinds emitted by the core components.
const (
	KindCircuitBreaker = "circuit_breaker"
	KindEndpointHealth = "endpoint_health"
	KindDepeg          = "depeg"
	KindStalePrice     = "stale_price"
)

// Notification carries the context of an emergency alert.
type Notification struct {
	Timestamp time.Time
	Kind      string
	Asset     string
	Message   string
	Contacts  []string
}

// Notifier delivers notifications. Delivery is best-effort everywhere in
// this system: callers log and swallow errors.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().Str("kind", note.Kind).Str("asset", note.Asset).Msg("alert dispatched (telegram)")
	return nil
}

// WebhookNotifier POSTs the notification JSON to each configured contact
// URL. A failing contact does not stop delivery to the others.
type WebhookNotifier struct {
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier constructs a webhook notifier.
func NewWebhookNotifier(timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Notify fans the notification out to every contact URL.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(map[string]string{
		"timestamp": note.Timestamp.UTC().Format(time.RFC3339),
		"kind":      note.Kind,
		"asset":     note.Asset,
		"message":   note.Message,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for _, contact := range note.Contacts {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, contact, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.logger.Warn().Err(err).Str("contact", contact).Msg("webhook delivery failed")
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("webhook %s returned status %d", contact, resp.StatusCode)
			n.logger.Warn().Str("contact", contact).Int("status", resp.StatusCode).Msg("webhook delivery rejected")
		}
	}
	return lastErr
}

// MultiNotifier fans out to several notifiers.
type MultiNotifier []Notifier

// Notify delivers through every notifier, returning the last error.
func (m MultiNotifier) Notify(ctx context.Context, note Notification) error {
	var lastErr error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[depegshield alert]\n")
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Kind: %s\n", note.Kind))
	if note.Asset != "" {
		builder.WriteString(fmt.Sprintf("Asset: %s\n", note.Asset))
	}
	builder.WriteString(note.Message)
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (MultiNotifier)(nil)
)
