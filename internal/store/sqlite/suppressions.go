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
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/elektrine/ingestion/internal/models"
)

const suppressionColumns = `
	id, user_id, email, reason, source, expires_at, metadata, last_event_at, created_at`

// UpsertSuppression records a suppression keyed on (user, lower-cased email). A repeat
// event refreshes reason, source, expiry and last_event_at and merges
// metadata, all inside one transaction.
func (s *Store) UpsertSuppression(ctx context.Context, e *models.SuppressionEntry) (*models.SuppressionEntry, error) {
	email := strings.ToLower(e.Email)
	now := s.now()
	lastEvent := e.LastEventAt
	if lastEvent.IsZero() {
		lastEvent = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin suppression upsert: %w", err)
	}
	defer tx.Rollback()

	metadata := map[string]any{}
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM suppressions WHERE user_id = ? AND email = ?`,
		e.UserID, email).Scan(&existing)
	if none, err := noRows(err); err != nil {
		return nil, fmt.Errorf("read suppression: %w", err)
	} else if !none {
		if err := json.Unmarshal([]byte(existing), &metadata); err != nil {
			return nil, fmt.Errorf("decode suppression metadata: %w", err)
		}
	}
	maps.Copy(metadata, e.Metadata)
	encoded, err := encodeJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode suppression metadata: %w", err)
	}

	var expires any
	if e.ExpiresAt != nil {
		expires = toNanos(*e.ExpiresAt)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO suppressions (user_id, email, reason, source, expires_at, metadata, last_event_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, email) DO UPDATE SET
			reason        = excluded.reason,
			source        = excluded.source,
			expires_at    = excluded.expires_at,
			metadata      = excluded.metadata,
			last_event_at = excluded.last_event_at
		RETURNING `+suppressionColumns,
		e.UserID, email, e.Reason, e.Source, expires, encoded, toNanos(lastEvent), toNanos(now))
	out, err := scanSuppression(row)
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit suppression upsert: %w", err)
	}
	return out, nil
}

// IsSuppressed reports whether a non-expired suppression exists.
func (s *Store) IsSuppressed(ctx context.Context, userID int64, email string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE user_id = ? AND email = lower(?) AND (expires_at IS NULL OR expires_at > ?)
		)
	`, userID, email, toNanos(s.now())).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("query suppression: %w", err)
	}
	return active, nil
}

// ListSuppressions returns every suppression of a user, expired ones included.
func (s *Store) ListSuppressions(ctx context.Context, userID int64) ([]*models.SuppressionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suppressionColumns+` FROM suppressions WHERE user_id = ? ORDER BY email
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []*models.SuppressionEntry
	for rows.Next() {
		e, err := scanSuppression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanSuppression(row scanner) (*models.SuppressionEntry, error) {
	var (
		e                    models.SuppressionEntry
		expires              sql.NullInt64
		metadata             string
		lastEvent, createdAt int64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Email, &e.Reason, &e.Source,
		&expires, &metadata, &lastEvent, &createdAt)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		t := fromNanos(expires.Int64)
		e.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode suppression metadata: %w", err)
	}
	e.LastEventAt = fromNanos(lastEvent)
	e.CreatedAt = fromNanos(createdAt)
	return &e, nil
}
