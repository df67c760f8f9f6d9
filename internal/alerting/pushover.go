package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

// PushoverSender pushes alerts through the Pushover messages API.
type PushoverSender struct {
	token          string
	defaultUserKey string
	baseURL        string
	client         *http.Client
	logger         zerolog.Logger
}

// NewPushoverSender constructs the Pushover channel sender.
func NewPushoverSender(token, userKey, baseURL string, timeout time.Duration, logger zerolog.Logger) *PushoverSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.pushover.net"
	}
	return &PushoverSender{
		token:          token,
		defaultUserKey: userKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: timeout},
		logger:         logger.With().Str("component", "alert_pushover").Logger(),
	}
}

// Send posts the message. A per-watcher user_key param overrides the default
// recipient.
func (s *PushoverSender) Send(ctx context.Context, msg Message, ch watch.ChannelConfig) error {
	userKey := s.defaultUserKey
	if override := ch.Params["user_key"]; override != "" {
		userKey = override
	}
	if s.token == "" || userKey == "" {
		return fmt.Errorf("pushover token or user key not configured")
	}

	form := url.Values{}
	form.Set("token", s.token)
	form.Set("user", userKey)
	form.Set("title", headline(msg))
	form.Set("message", renderText(msg))
	if msg.URL != "" {
		form.Set("url", msg.URL)
		form.Set("url_title", "Open listing")
	}

	endpoint := s.baseURL + "/1/messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pushover responded %d", resp.StatusCode)
	}

	var result struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if result.Status != 1 {
			return fmt.Errorf("pushover rejected message: %s", strings.Join(result.Errors, "; "))
		}
	}

	s.logger.Debug().Str("watcher", msg.WatcherID).Str("kind", string(msg.Kind)).Msg("pushover alert sent")
	return nil
}

var _ Sender = (*PushoverSender)(nil)
