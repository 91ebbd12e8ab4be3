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

package filters

import (
	"context"
	"fmt"
	"log/slog"
)

// Service is the create/update/delete surface for user filters. Every
// write is validated first, so invalid rules never reach the pipeline.
type Service struct {
	store Store
}

// NewService creates a Service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns all of a user's filters, enabled or not.
func (s *Service) List(ctx context.Context, userID int64) ([]*Filter, error) {
	list, err := s.store.ListFilters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	return list, nil
}

// Create validates and stores a new filter for userID.
func (s *Service) Create(ctx context.Context, userID int64, f *Filter) (*Filter, error) {
	f.UserID = userID
	if f.Conditions.MatchType == "" {
		f.Conditions.MatchType = MatchAll
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	created, err := s.store.CreateFilter(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	slog.Info("filter created", "user_id", userID, "filter_id", created.ID, "name", created.Name)
	return created, nil
}

// Update validates and replaces an existing filter. Returns ErrNotFound
// when the filter does not belong to userID.
func (s *Service) Update(ctx context.Context, userID, id int64, f *Filter) (*Filter, error) {
	f.ID = id
	f.UserID = userID
	if f.Conditions.MatchType == "" {
		f.Conditions.MatchType = MatchAll
	}
	if err := Validate(f); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateFilter(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("update filter %d: %w", id, err)
	}
	slog.Info("filter updated", "user_id", userID, "filter_id", id)
	return updated, nil
}

// Delete removes a filter. Returns ErrNotFound when the filter does not
// belong to userID.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	if err := s.store.DeleteFilter(ctx, userID, id); err != nil {
		return fmt.Errorf("delete filter %d: %w", id, err)
	}
	slog.Info("filter deleted", "user_id", userID, "filter_id", id)
	return nil
}
