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

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// LookupMailbox finds the mailbox for an address, case-insensitively.
func (s *Store) LookupMailbox(ctx context.Context, addr string) (*models.Mailbox, error) {
	var mb models.Mailbox
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, address, auto_suppress
		FROM mailboxes
		WHERE lower(address) = lower($1)
	`, address.Normalize(addr)).Scan(&mb.ID, &mb.UserID, &mb.Address, &mb.AutoSuppress)
	if none, err := noRows(err); none || err != nil {
		return nil, err
	}
	return &mb, nil
}

// LookupAlias finds the alias for an address, case-insensitively.
func (s *Store) LookupAlias(ctx context.Context, addr string) (*models.Alias, error) {
	var a models.Alias
	err := s.pool.QueryRow(ctx, `
		SELECT alias_email, target_email, user_id, enabled
		FROM aliases
		WHERE lower(alias_email) = lower($1)
	`, address.Normalize(addr)).Scan(&a.AliasEmail, &a.TargetEmail, &a.UserID, &a.Enabled)
	if none, err := noRows(err); none || err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateMailbox inserts a mailbox and returns it with its ID.
func (s *Store) CreateMailbox(ctx context.Context, mb *models.Mailbox) (*models.Mailbox, error) {
	out := *mb
	out.Address = address.Normalize(mb.Address)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO mailboxes (user_id, address, auto_suppress)
		VALUES ($1, $2, $3)
		RETURNING id
	`, out.UserID, out.Address, out.AutoSuppress).Scan(&out.ID)
	if err != nil {
		return nil, fmt.Errorf("insert mailbox %s: %w", out.Address, err)
	}
	return &out, nil
}

// UpsertAlias creates or replaces an alias keyed on its address.
func (s *Store) UpsertAlias(ctx context.Context, a *models.Alias) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aliases (alias_email, target_email, user_id, enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lower(alias_email)) DO UPDATE SET
			target_email = EXCLUDED.target_email,
			user_id      = EXCLUDED.user_id,
			enabled      = EXCLUDED.enabled
	`, address.Normalize(a.AliasEmail), address.Normalize(a.TargetEmail), a.UserID, a.Enabled)
	if err != nil {
		return fmt.Errorf("upsert alias %s: %w", a.AliasEmail, err)
	}
	return nil
}
