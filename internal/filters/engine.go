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
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/elektrine/ingestion/internal/models"
)

// ErrNotFound is returned by stores when a filter does not exist for the
// given user.
var ErrNotFound = errors.New("filter not found")

// Store persists filters. ListEnabledFilters returns enabled filters
// ordered by ascending priority.
type Store interface {
	ListEnabledFilters(ctx context.Context, userID int64) ([]*Filter, error)
	ListFilters(ctx context.Context, userID int64) ([]*Filter, error)
	CreateFilter(ctx context.Context, f *Filter) (*Filter, error)
	UpdateFilter(ctx context.Context, f *Filter) (*Filter, error)
	DeleteFilter(ctx context.Context, userID, id int64) error
}

// Engine applies a user's filters to inbound messages.
type Engine struct {
	store Store
}

// NewEngine creates an Engine reading filters from store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Apply evaluates the user's enabled filters in priority order and merges
// the actions of those that match. An earlier filter's action wins over a
// later one with the same key. A matching filter with StopProcessing ends
// evaluation.
func (e *Engine) Apply(ctx context.Context, userID int64, msg *models.NormalizedMessage) (Actions, error) {
	list, err := e.store.ListEnabledFilters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list filters for user %d: %w", userID, err)
	}
	return Evaluate(list, msg), nil
}

// Evaluate is Apply over an already loaded filter list. Disabled filters
// are skipped.
func Evaluate(list []*Filter, msg *models.NormalizedMessage) Actions {
	ordered := make([]*Filter, 0, len(list))
	for _, f := range list {
		if f != nil && f.Enabled {
			ordered = append(ordered, f)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	merged := Actions{}
	for _, f := range ordered {
		if !Matches(f, msg) {
			continue
		}
		slog.Debug("filter matched", "filter_id", f.ID, "user_id", f.UserID, "name", f.Name)
		for k, v := range f.Actions {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		if f.StopProcessing {
			break
		}
	}
	return merged
}
