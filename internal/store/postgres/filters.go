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

	"github.com/jackc/pgx/v5"

	"github.com/elektrine/ingestion/internal/filters"
)

const filterColumns = `
	id, user_id, name, conditions, actions, priority, stop_processing, enabled, created_at, updated_at`

// ListEnabledFilters returns a user's enabled filters by ascending priority.
func (s *Store) ListEnabledFilters(ctx context.Context, userID int64) ([]*filters.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT `+filterColumns+`
		FROM filters
		WHERE user_id = $1 AND enabled
		ORDER BY priority, id
	`, userID)
}

// ListFilters returns all of a user's filters by ascending priority.
func (s *Store) ListFilters(ctx context.Context, userID int64) ([]*filters.Filter, error) {
	return s.queryFilters(ctx, `
		SELECT `+filterColumns+`
		FROM filters
		WHERE user_id = $1
		ORDER BY priority, id
	`, userID)
}

// CreateFilter inserts a filter.
func (s *Store) CreateFilter(ctx context.Context, f *filters.Filter) (*filters.Filter, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO filters (user_id, name, conditions, actions, priority, stop_processing, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+filterColumns,
		f.UserID, f.Name, f.Conditions, f.Actions, f.Priority, f.StopProcessing, f.Enabled)
	out, err := scanFilter(row)
	if err != nil {
		return nil, fmt.Errorf("insert filter: %w", err)
	}
	return out, nil
}

// UpdateFilter replaces a filter owned by f.UserID. Returns filters.ErrNotFound
// when no such filter exists for that user.
func (s *Store) UpdateFilter(ctx context.Context, f *filters.Filter) (*filters.Filter, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE filters SET
			name = $3, conditions = $4, actions = $5, priority = $6,
			stop_processing = $7, enabled = $8, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING `+filterColumns,
		f.ID, f.UserID, f.Name, f.Conditions, f.Actions, f.Priority, f.StopProcessing, f.Enabled)
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
	tag, err := s.pool.Exec(ctx, `DELETE FROM filters WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return filters.ErrNotFound
	}
	return nil
}

func (s *Store) queryFilters(ctx context.Context, sql string, args ...any) ([]*filters.Filter, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
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

func scanFilter(row pgx.Row) (*filters.Filter, error) {
	var f filters.Filter
	err := row.Scan(&f.ID, &f.UserID, &f.Name, &f.Conditions, &f.Actions,
		&f.Priority, &f.StopProcessing, &f.Enabled, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
