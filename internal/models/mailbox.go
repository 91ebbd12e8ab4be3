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

import "time"

// Mailbox is a locally hosted mailbox owned by a user.
type Mailbox struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Address      string `json:"address"`
	AutoSuppress bool   `json:"auto_suppress"`
}

// Alias maps a local address to another address, local or external.
type Alias struct {
	AliasEmail  string `json:"alias_email"`
	TargetEmail string `json:"target_email"`
	UserID      int64  `json:"user_id"`
	Enabled     bool   `json:"enabled"`
}

// Message status values.
const (
	StatusReceived = "received"
	StatusSent     = "sent"
)

// StoredMessage is the persisted record of an ingested message.
type StoredMessage struct {
	ID             int64          `json:"id"`
	MailboxID      int64          `json:"mailbox_id"`
	MessageID      string         `json:"message_id"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	RcptTo         string         `json:"rcpt_to,omitempty"`
	Subject        string         `json:"subject"`
	TextBody       string         `json:"text_body,omitempty"`
	HTMLBody       string         `json:"html_body,omitempty"`
	Category       string         `json:"category"`
	IsReceipt      bool           `json:"is_receipt"`
	IsNewsletter   bool           `json:"is_newsletter"`
	IsNotification bool           `json:"is_notification"`
	FilterActions  map[string]any `json:"filter_actions,omitempty"`
	Status         string         `json:"status"`
	InsertedAt     time.Time      `json:"inserted_at"`
}

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce SuppressionReason = "hard_bounce"
	ReasonComplaint  SuppressionReason = "complaint"
	ReasonManual     SuppressionReason = "manual"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceInboundDSN      SuppressionSource = "inbound_dsn"
	SourceInboundFeedback SuppressionSource = "inbound_feedback_loop"
	SourceManual          SuppressionSource = "manual"
)

// SuppressionEntry blocks future outbound sends from a user to an address.
// Entries are unique per (UserID, lower-cased Email). A nil ExpiresAt means
// the suppression is permanent.
type SuppressionEntry struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	Email       string            `json:"email"`
	Reason      SuppressionReason `json:"reason"`
	Source      SuppressionSource `json:"source"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	LastEventAt time.Time         `json:"last_event_at"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Active reports whether the entry is in force at the given time.
func (e *SuppressionEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
