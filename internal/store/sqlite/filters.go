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

	"github.com/elektrine/ingestion/internal/filters"
)

const filterColumns = `
	id, user_id, name, conditions, actions, priority, stop_processing, enabled, created_at, updated_at`

// ListEnabledFilters returns a user's enabled filters by ascending priority.
func (s *Store) ListEnabledFilters(ctx context.Context, userID int64) ([]*filters.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT `+filterColumns+` FROM filters WHERE user_id = ? AND enabled = 1 ORDER BY priority, id
	`, userID)
}

// ListFilters returns all of a user's filters by ascending priority.
func (s *Store) ListFilters(ctx context.Context, userID int64) ([]*filters.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT `+filterColumns+` FROM filters WHERE user_id = ? ORDER BY priority, id
	`, userID)
}

// CreateFilter inserts a filter.
func (s *Store) CreateFilter(ctx context.Context, f *filters.Filter) (*filters.Filter, error) {
	conditions, actions, err := encodeFilter(f)
	if err != nil {
		return nil, err
	}
	now := toNanos(s.now())
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO filters (user_id, name, conditions, actions, priority, stop_processing, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+filterColumns,
		f.UserID, f.Name, conditions, actions, f.Priority, f.StopProcessing, f.Enabled, now, now)
	out, err := scanFilter(row)
	if err != nil {
		return nil, fmt.Errorf("insert filter: %w", err)
	}
	return out, nil
}

// UpdateFilter replaces a filter owned by f.UserID. Returns filters.ErrNotFound
// when no such filter exists for that user.
func (s *Store) UpdateFilter(ctx context.Context, f *filters.Filter) (*filters.Filter, error) {
	conditions, actions, err := encodeFilter(f)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE filters SET
			name = ?, conditions = ?, actions = ?, priority = ?,
			stop_processing = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
		RETURNING `+filterColumns,
		f.Name, conditions, actions, f.Priority, f.StopProcessing, f.Enabled, toNanos(s.now()),
		f.ID, f.UserID)
	out, err := scanFilter(row)
	if none, err := noRows(err); none {
		return nil, filters.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("update filter %d: %w", f.ID, err)
	}
	return out, nil
}

// DeleteFilter removes a filter owned by userID.
func (s *Store) DeleteFilter(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filters WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	if n == 0 {
		return filters.ErrNotFound
	}
	return nil
}

func (s *Store) queryFilters(ctx context.Context, query string, args ...any) ([]*filters.Filter, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	defer rows.Close()

	var out []*filters.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func encodeFilter(f *filters.Filter) (conditions, actions string, err error) {
	if conditions, err = encodeJSON(f.Conditions); err != nil {
		return "", "", fmt.Errorf("encode filter conditions: %w", err)
	}
	if actions, err = encodeJSON(f.Actions); err != nil {
		return "", "", fmt.Errorf("encode filter actions: %w", err)
	}
	return conditions, actions, nil
}

func scanFilter(row scanner) (*filters.Filter, error) {
	var (
		f                    filters.Filter
		conditions, actions  string
		createdAt, updatedAt int64
	)
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &conditions, &actions,
		&f.Priority, &f.StopProcessing, &f.Enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conditions), &f.Conditions); err != nil {
		return nil, fmt.Errorf("decode conditions of filter %d: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &f.Actions); err != nil {
		return nil, fmt.Errorf("decode actions of filter %d: %w", f.ID, err)
	}
	f.CreatedAt = fromNanos(createdAt)
	f.UpdatedAt = fromNanos(updatedAt)
	return &f, nil
}
