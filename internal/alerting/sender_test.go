package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatcher/internal/watch"
)

func testMessage() Message {
	prev := decimal.NewFromInt(500)
	return Message{
		WatcherID:     "w1",
		WatcherName:   "ThinkPads Berlin",
		Kind:          watch.EventPriceDrop,
		Title:         "ThinkPad X1 Carbon",
		Price:         decimal.NewFromInt(420),
		PreviousPrice: &prev,
		DropPct:       decimal.NewFromInt(16),
		Location:      "Berlin",
		URL:           "https://market.example/l/123",
	}
}

func TestTelegramSenderSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err != nil {
		t.Fatalf("telegram send should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "Price drop") {
		t.Fatalf("text should carry the headline, got %q", received["text"])
	}
	if !strings.Contains(received["text"], "Was: 500.00") {
		t.Fatalf("text should carry the previous price, got %q", received["text"])
	}
}

func TestTelegramSenderChatOverride(t *testing.T) {
	var chatID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		chatID = body["chat_id"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "default", srv.URL, time.Second, zerolog.Nop())
	ch := watch.ChannelConfig{Enabled: true, Params: map[string]string{"chat_id": "override"}}
	if err := sender.Send(context.Background(), testMessage(), ch); err != nil {
		t.Fatal(err)
	}
	if chatID != "override" {
		t.Fatalf("per-watcher chat_id should win, got %q", chatID)
	}
}

func TestTelegramSenderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	sender := NewTelegramSender("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err == nil {
		t.Fatal("ok=false should error")
	}
}

func TestSlackSenderSuccess(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode slack payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSlackSender(srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err != nil {
		t.Fatalf("slack send should succeed: %v", err)
	}
	if !strings.Contains(payload.Text, "Price drop") {
		t.Fatalf("fallback text missing headline: %q", payload.Text)
	}
	if len(payload.Blocks) == 0 {
		t.Fatal("expected a section block")
	}
}

func TestSlackSenderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	sender := NewSlackSender(srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err == nil {
		t.Fatal("HTTP 400 should error")
	}
}

func TestPushoverSenderSuccess(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 1})
	}))
	defer srv.Close()

	sender := NewPushoverSender("app-token", "user-key", srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err != nil {
		t.Fatalf("pushover send should succeed: %v", err)
	}
	if got := form["user"]; len(got) != 1 || got[0] != "user-key" {
		t.Fatalf("user key not sent: %v", form)
	}
	if got := form["url"]; len(got) != 1 || got[0] != "https://market.example/l/123" {
		t.Fatalf("listing url not sent: %v", form)
	}
}

func TestPushoverSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 0, "errors": []string{"user identifier is invalid"}})
	}))
	defer srv.Close()

	sender := NewPushoverSender("app-token", "user-key", srv.URL, time.Second, zerolog.Nop())
	if err := sender.Send(context.Background(), testMessage(), watch.ChannelConfig{Enabled: true}); err == nil {
		t.Fatal("status=0 should error")
	}
}
