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


package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/elektrine/ingestion/internal/models"
)

const suppressionColumns = `
	id, user_id, email, reason, source, expires_at, metadata, last_event_at, created_at`

// UpsertSuppression records a suppression keyed on (user, lower-cased email) in one
// statement. A repeat event refreshes reason, source, expiry and
// last_event_at and merges metadata.
func (s *Store) UpsertSuppression(ctx context.Context, e *models.SuppressionEntry) (*models.SuppressionEntry, error) {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO suppressions (user_id, email, reason, source, expires_at, metadata, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (user_id, email) DO UPDATE SET
			reason        = EXCLUDED.reason,
			source        = EXCLUDED.source,
			expires_at    = EXCLUDED.expires_at,
			metadata      = suppressions.metadata || EXCLUDED.metadata,
			last_event_at = EXCLUDED.last_event_at,
			updated_at    = NOW()
		RETURNING `+suppressionColumns,
		e.UserID, strings.ToLower(e.Email), e.Reason, e.Source, e.ExpiresAt, metadata, lastEventAt(e))
	out, err := scanSuppression(row)
	if err != nil {
		return nil, fmt.Errorf("upsert suppression: %w", err)
	}
	return out, nil
}

// IsSuppressed reports whether a non-expired suppression exists.
func (s *Store) IsSuppressed(ctx context.Context, userID int64, email string) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE user_id = $1 AND email = lower($2)
			  AND (expires_at IS NULL OR expires_at > NOW())
		)
	`, userID, email).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("query suppression: %w", err)
	}
	return active, nil
}

// ListSuppressions returns every suppression of a user, expired ones included.
func (s *Store) ListSuppressions(ctx context.Context, userID int64) ([]*models.SuppressionEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+suppressionColumns+`
		FROM suppressions
		WHERE user_id = $1
		ORDER BY email
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

func lastEventAt(e *models.SuppressionEntry) any {
	if e.LastEventAt.IsZero() {
		return nil
	}
	return e.LastEventAt
}

func scanSuppression(row pgx.Row) (*models.SuppressionEntry, error) {
	var e models.SuppressionEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Email, &e.Reason, &e.Source,
		&e.ExpiresAt, &e.Metadata, &e.LastEventAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
