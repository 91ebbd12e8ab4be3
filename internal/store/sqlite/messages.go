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


package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elektrine/ingestion/internal/models"
)

const messageColumns = `
	id, mailbox_id, COALESCE(message_id, ''), from_addr, to_addr, rcpt_to,
	subject, text_body, html_body, category, is_receipt, is_newsletter,
	is_notification, filter_actions, status, inserted_at`

type scanner interface {
	Scan(dest ...any) error
}

// FindByMessageID returns the message stored in a mailbox under a
// Message-ID, or nil.
func (s *Store) FindByMessageID(ctx context.Context, mailboxID int64, messageID string) (*models.StoredMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE mailbox_id = ? AND message_id = ?
	`, mailboxID, messageID)
	m, err := scanMessage(row)
	if none, err := noRows(err); none || err != nil {
		return nil, err
	}
	return m, nil
}

// FindRecentSimilar returns messages in a mailbox with the same sender and
// subject stored at or after since, newest first.
func (s *Store) FindRecentSimilar(ctx context.Context, mailboxID int64, from, subject string, since time.Time) ([]*models.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE mailbox_id = ? AND lower(from_addr) = lower(?) AND subject = ? AND inserted_at >= ?
		ORDER BY inserted_at DESC
	`, mailboxID, from, subject, toNanos(since))
	if err != nil {
		return nil, fmt.Errorf("query similar messages: %w", err)
	}
	defer rows.Close()

	var out []*models.StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentlySent reports whether mail with this sender, recipient and subject
// was sent at or after since.
func (s *Store) RecentlySent(ctx context.Context, from, to, subject string, since time.Time) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE status = ? AND lower(from_addr) = lower(?) AND lower(to_addr) = lower(?)
			  AND subject = ? AND inserted_at >= ?
		)
	`, models.StatusSent, from, to, subject, toNanos(since)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("query sent messages: %w", err)
	}
	return found, nil
}

// Insert stores a message in one statement. When (mailbox, Message-ID)
// already exists nothing is written and the existing row is returned with
// created false. An empty Message-ID is stored as NULL and never conflicts.
func (s *Store) Insert(ctx context.Context, m *models.StoredMessage) (*models.StoredMessage, bool, error) {
	status := m.Status
	if status == "" {
		status = models.StatusReceived
	}
	actions := m.FilterActions
	if actions == nil {
		actions = map[string]any{}
	}
	encoded, err := encodeJSON(actions)
	if err != nil {
		return nil, false, fmt.Errorf("encode filter actions: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages
			(mailbox_id, message_id, from_addr, to_addr, rcpt_to, subject, text_body,
			 html_body, category, is_receipt, is_newsletter, is_notification,
			 filter_actions, status, inserted_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (mailbox_id, message_id) DO NOTHING
		RETURNING `+messageColumns,
		m.MailboxID, m.MessageID, m.From, m.To, m.RcptTo, m.Subject, m.TextBody,
		m.HTMLBody, m.Category, m.IsReceipt, m.IsNewsletter, m.IsNotification,
		encoded, status, toNanos(s.now()))
	stored, err := scanMessage(row)
	if err == nil {
		return stored, true, nil
	}
	if none, err := noRows(err); !none {
		return nil, false, fmt.Errorf("insert message: %w", err)
	}

	existing, err := s.FindByMessageID(ctx, m.MailboxID, m.MessageID)
	if err != nil {
		return nil, false, fmt.Errorf("read conflicting message: %w", err)
	}
	if existing == nil {
		return nil, false, fmt.Errorf("message %q conflicted but was not found", m.MessageID)
	}
	return existing, false, nil
}

func scanMessage(row scanner) (*models.StoredMessage, error) {
	var (
		m        models.StoredMessage
		actions  string
		inserted int64
	)
	err := row.Scan(
		&m.ID, &m.MailboxID, &m.MessageID, &m.From, &m.To, &m.RcptTo,
		&m.Subject, &m.TextBody, &m.HTMLBody, &m.Category, &m.IsReceipt, &m.IsNewsletter,
		&m.IsNotification, &actions, &m.Status, &inserted,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actions), &m.FilterActions); err != nil {
		return nil, fmt.Errorf("decode filter actions of message %d: %w", m.ID, err)
	}
	m.InsertedAt = fromNanos(inserted)
	return &m, nil
}
