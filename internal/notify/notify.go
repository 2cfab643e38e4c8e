// Package notify sends desktop notifications through screenpipe.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultURL is screenpipe's notification endpoint
const DefaultURL = "http://localhost:11435/notify"

// Notifier delivers a short user-facing message
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Screenpipe posts notifications to the screenpipe app
type Screenpipe struct {
	url    string
	client *http.Client
}

// NewScreenpipe creates a notifier for the given endpoint
func NewScreenpipe(url string, timeout time.Duration) *Screenpipe {
	if strings.TrimSpace(url) == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Screenpipe{url: url, client: &http.Client{Timeout: timeout}}
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify sends one notification
func (s *Screenpipe) Notify(ctx context.Context, title, body string) error {
	jsonBody, err := json.Marshal(notification{Title: title, Body: body})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Log writes notifications to a logger instead of the desktop
type Log struct {
	Logger *slog.Logger
}

// Notify logs the message
func (l Log) Notify(ctx context.Context, title, body string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "title", title, "body", body)
	return nil
}
