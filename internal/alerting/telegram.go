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

	"marketwatcher/internal/watch"
)

// TelegramSender pushes alerts through the Telegram Bot API.
type TelegramSender struct {
	botToken      string
	defaultChatID string
	baseURL       string
	client        *http.Client
	logger        zerolog.Logger
}

// NewTelegramSender constructs the Telegram channel sender.
func NewTelegramSender(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramSender{
		botToken:      botToken,
		defaultChatID: chatID,
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: timeout},
		logger:        logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Send posts the message via sendMessage. A per-watcher chat_id param
// overrides the default chat.
func (s *TelegramSender) Send(ctx context.Context, msg Message, ch watch.ChannelConfig) error {
	chatID := s.defaultChatID
	if override := ch.Params["chat_id"]; override != "" {
		chatID = override
	}
	if chatID == "" {
		return fmt.Errorf("telegram chat id not configured")
	}

	payload := map[string]string{
		"chat_id": chatID,
		"text":    renderText(msg),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram responded %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	s.logger.Debug().Str("watcher", msg.WatcherID).Str("kind", string(msg.Kind)).Msg("telegram alert sent")
	return nil
}

var _ Sender = (*TelegramSender)(nil)
