package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/fundarb/internal/domain"
)

type stubSender struct {
	mu    sync.Mutex
	name  string
	sent  []string
	fail  bool
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("boom")
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) titles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, []string{domain.EventSuccess, domain.EventPartial}, discard())
	ctx := context.Background()

	if err := n.Notify(ctx, domain.EventProgress, "t1", "m"); err != nil {
		t.Fatalf("filtered notify: %v", err)
	}
	if err := n.Notify(ctx, domain.EventSuccess, "t2", "m"); err != nil {
		t.Fatalf("allowed notify: %v", err)
	}
	if got := s.titles(); len(got) != 1 || got[0] != "t2" {
		t.Fatalf("sent = %v, want only t2", got)
	}
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &stubSender{name: "stub"}
	n := NewNotifier([]Sender{s}, nil, discard())

	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles()) != 1 {
		t.Fatal("empty filter should allow every event")
	}
}

func TestNotifierContinuesPastFailedSender(t *testing.T) {
	bad := &stubSender{name: "bad", fail: true}
	good := &stubSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "x", "t", "m")
	if err == nil {
		t.Fatal("expected a combined error")
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Fatalf("error = %v, want the failed sender named", err)
	}
	if len(good.titles()) != 1 {
		t.Fatal("the healthy sender must still deliver")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottok/sendMessage") {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat-1")
	s.SetBaseURL(srv.URL)

	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["chat_id"] != "chat-1" {
		t.Fatalf("chat_id = %q", got["chat_id"])
	}
	if !strings.Contains(got["text"], "*Title*") {
		t.Fatalf("text = %q, want bold title", got["text"])
	}
}

func TestTelegramSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "chat-1")
	s.SetBaseURL(srv.URL)
	if err := s.Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}

func TestDiscordSenderEmbedColor(t *testing.T) {
	var payload struct {
		Embeds []discordEmbed `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	if err := s.Send(context.Background(), "🚨 close rollback failed", "detail"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(payload.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(payload.Embeds))
	}
	if payload.Embeds[0].Color != discordRed {
		t.Fatalf("color = %#x, want red", payload.Embeds[0].Color)
	}
}

func TestRenderEvent(t *testing.T) {
	title, message := render(domain.Event{
		Type:       domain.EventPartial,
		Operation:  "close",
		PositionID: "pos-1",
		UserID:     "u1",
		Symbol:     "BTCUSDT",
		Fields:     map[string]any{"failed_side": "short", "closed_side": "long"},
	})
	if !strings.Contains(title, "partially completed") {
		t.Fatalf("title = %q", title)
	}
	for _, want := range []string{"BTCUSDT", "pos-1", "closed_side: long", "failed_side: short"} {
		if !strings.Contains(message, want) {
			t.Fatalf("message %q missing %q", message, want)
		}
	}
}
