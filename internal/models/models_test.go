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


package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecodeEnvelope verifies JSON decoding and raw header merging.
func TestDecodeEnvelope(t *testing.T) {
	raw := "From: Alice <alice@x.org>\r\n" +
		"To: me@local.tld\r\n" +
		"Subject: From raw\r\n" +
		"Message-ID: <raw-1@x.org>\r\n" +
		"List-Id: <news.x.org>\r\n" +
		"\r\nbody\r\n"
	body := `{"rcpt_to":"me@local.tld","subject":"Supplied","raw":` + quote(raw) + `}`

	env, err := DecodeEnvelope(strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, "Alice <alice@x.org>", env.From)
	assert.Equal(t, "me@local.tld", env.To)
	assert.Equal(t, "Supplied", env.Subject)
	assert.Equal(t, "<raw-1@x.org>", env.MessageID)
	assert.Equal(t, "<news.x.org>", env.Headers.Get("list-id"))
}

// TestDecodeEnvelope_Errors verifies malformed and recipient-less input.
func TestDecodeEnvelope_Errors(t *testing.T) {
	_, err := DecodeEnvelope(strings.NewReader("{not json"))
	assert.Error(t, err)

	_, err = DecodeEnvelope(strings.NewReader(`{"from":"a@x.org","subject":"hi"}`))
	assert.ErrorIs(t, err, ErrNoRecipient)
}

// TestHeaders verifies case-insensitive lookups on a nil-safe map.
func TestHeaders(t *testing.T) {
	var none Headers
	assert.Empty(t, none.Get("From"))
	assert.False(t, none.Has("From"))

	h := Headers{"X-Mailer": "  ", "list-unsubscribe": "<mailto:u@x.org>"}
	assert.Equal(t, "<mailto:u@x.org>", h.Get("List-Unsubscribe"))
	assert.False(t, h.Has("x-mailer"))
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", `\r`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}
