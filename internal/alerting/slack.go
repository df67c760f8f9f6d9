package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

// SlackSender pushes alerts through a Slack incoming webhook.
type SlackSender struct {
	defaultWebhook string
	client         *http.Client
	logger         zerolog.Logger
}

// NewSlackSender constructs the Slack channel sender.
func NewSlackSender(webhookURL string, timeout time.Duration, logger zerolog.Logger) *SlackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSender{
		defaultWebhook: webhookURL,
		client:         &http.Client{Timeout: timeout},
		logger:         logger.With().Str("component", "alert_slack").Logger(),
	}
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send posts the message to the webhook. A per-watcher webhook_url param
// overrides the default.
func (s *SlackSender) Send(ctx context.Context, msg Message, ch watch.ChannelConfig) error {
	webhook := s.defaultWebhook
	if override := ch.Params["webhook_url"]; override != "" {
		webhook = override
	}
	if webhook == "" {
		return fmt.Errorf("slack webhook url not configured")
	}

	text := renderText(msg)
	payload := slackPayload{
		Text: headline(msg),
		Blocks: []slackBlock{
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: text}},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	s.logger.Debug().Str("watcher", msg.WatcherID).Str("kind", string(msg.Kind)).Msg("slack alert sent")
	return nil
}

var _ Sender = (*SlackSender)(nil)
