package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Discord embed colors per severity.
const (
	discordGreen  = 0x2ecc71
	discordYellow = 0xf1c40f
	discordRed    = 0xe74c3c
	discordGray   = 0x95a5a6
)

// DiscordSender delivers notifications via a Discord webhook as a single
// colored embed. The color is picked from the title's severity marker.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL, with a
// 10s request timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

// Send posts one embed to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]any{
		"embeds": []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       colorFor(title),
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func colorFor(title string) int {
	switch {
	case containsAny(title, "✅"):
		return discordGreen
	case containsAny(title, "⚠️"):
		return discordYellow
	case containsAny(title, "🚨", "❌"):
		return discordRed
	default:
		return discordGray
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
