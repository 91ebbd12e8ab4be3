// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package alert posts security events to an operator endpoint. When a
// token URL is configured the endpoint is called with an OAuth2
// client-credentials token.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/elektrine/ingestion/internal/config"
)

const sendTimeout = 5 * time.Second

// Alert describes one security rejection.
type Alert struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier delivers alerts. A nil Notifier drops them.
type Notifier struct {
	client *http.Client
	url    string
}

// New builds a Notifier from cfg. It returns nil when no URL is set.
func New(ctx context.Context, cfg config.AlertConfig) *Notifier {
	if cfg.URL == "" {
		return nil
	}

	client := &http.Client{Timeout: sendTimeout}
	if cfg.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = creds.Client(ctx)
		client.Timeout = sendTimeout
	}

	slog.Info("security alerts enabled", "url", cfg.URL, "oauth2", cfg.TokenURL != "")
	return &Notifier{client: client, url: cfg.URL}
}

// NewWithClient builds a Notifier around an existing HTTP client.
func NewWithClient(client *http.Client, url string) *Notifier {
	return &Notifier{client: client, url: url}
}

// Send posts a as JSON. Non-2xx responses are errors.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if n == nil {
		return nil
	}
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert endpoint returned %d", resp.StatusCode)
	}
	return nil
}
