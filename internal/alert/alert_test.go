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


package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/config"
)

// TestSendWithClientCredentials verifies the notifier fetches a token and
// presents it when posting the alert.
func TestSendWithClientCredentials(t *testing.T) {
	var got Alert
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/alerts", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	n := New(context.Background(), config.AlertConfig{
		URL:          srv.URL + "/alerts",
		TokenURL:     srv.URL + "/token",
		ClientID:     "ingest",
		ClientSecret: "s3cret",
	})
	require.NotNil(t, n)

	err := n.Send(context.Background(), Alert{Kind: "local_domain_spoofing", From: "ceo@local.tld", To: "cfo@local.tld"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", auth)
	assert.Equal(t, "local_domain_spoofing", got.Kind)
	assert.False(t, got.At.IsZero())
}

// TestSendErrors verifies non-2xx responses are reported and a nil
// notifier is a no-op.
func TestSendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWithClient(srv.Client(), srv.URL)
	assert.Error(t, n.Send(context.Background(), Alert{Kind: "bounce_attack"}))

	var disabled *Notifier
	assert.NoError(t, disabled.Send(context.Background(), Alert{}))
	assert.Nil(t, New(context.Background(), config.AlertConfig{}))
}
