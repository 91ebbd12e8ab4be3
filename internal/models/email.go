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

// Package models defines the data structures shared across the ingestion service.
package models

import "strings"

// Attachment represents a file attached to an inbound message.
// Content carries the base64 body as handed over by the MTA.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     string `json:"content,omitempty"`
}

// Headers is a flat header map. Lookups are case-insensitive.
type Headers map[string]string

// Get returns the value for name, matching keys case-insensitively.
func (h Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Has reports whether a header is present with a non-blank value.
func (h Headers) Has(name string) bool {
	return strings.TrimSpace(h.Get(name)) != ""
}

// AuthContext describes how the MTA received the message.
type AuthContext struct {
	SMTPAuthenticated bool   `json:"smtp_authenticated"`
	AuthenticatedUser string `json:"authenticated_user,omitempty"`
}

// InboundEnvelope is a message exactly as received from the edge MTA.
// It is produced once per webhook call and never modified afterwards.
type InboundEnvelope struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	RcptTo      string       `json:"rcpt_to,omitempty"`
	Subject     string       `json:"subject"`
	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Headers     Headers      `json:"headers,omitempty"`
	MessageID   string       `json:"message_id,omitempty"`
	Raw         string       `json:"raw,omitempty"`
	Auth        AuthContext  `json:"auth"`
}

// EnvelopeRecipient returns the true envelope recipient, falling back to the
// header To when the MTA did not supply one.
func (e *InboundEnvelope) EnvelopeRecipient() string {
	if strings.TrimSpace(e.RcptTo) != "" {
		return e.RcptTo
	}
	return e.To
}

// NormalizedMessage is an InboundEnvelope after content normalization: all
// strings are valid UTF-8, HTML is sanitized and header values are free of
// control characters. It is derived per request and never persisted as is.
type NormalizedMessage struct {
	From        string
	To          string
	Cc          string
	RcptTo      string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Headers     Headers
	MessageID   string
	Raw         string
}

// HasAttachments reports whether any attachment survived normalization.
func (m *NormalizedMessage) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// Body returns the text body, or the HTML body when no text part exists.
func (m *NormalizedMessage) Body() string {
	if strings.TrimSpace(m.TextBody) != "" {
		return m.TextBody
	}
	return m.HTMLBody
}
