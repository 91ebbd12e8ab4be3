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
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/elektrine/ingestion/internal/address"
)

// Known action names.
const (
	ActionMarkAsRead  = "mark_as_read"
	ActionMarkAsSpam  = "mark_as_spam"
	ActionArchive     = "archive"
	ActionDelete      = "delete"
	ActionStar        = "star"
	ActionLabel       = "label"
	ActionMoveTo      = "move_to"
	ActionForwardTo   = "forward_to"
	ActionSetCategory = "set_category"
)

var flagActions = map[string]bool{
	ActionMarkAsRead: true,
	ActionMarkAsSpam: true,
	ActionArchive:    true,
	ActionDelete:     true,
	ActionStar:       true,
}

var stringActions = map[string]bool{
	ActionLabel:       true,
	ActionMoveTo:      true,
	ActionForwardTo:   true,
	ActionSetCategory: true,
}

var categories = map[string]bool{"inbox": true, "feed": true, "ledger": true}

// ValidationError describes an invalid filter. Path points at the
// offending part, e.g. "conditions.rules[1].operator".
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid filter: %s: %s", e.Path, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a filter before it is stored.
func Validate(f *Filter) error {
	if strings.TrimSpace(f.Name) == "" {
		return &ValidationError{Path: "name", Message: "must not be empty"}
	}
	if f.Priority < 0 {
		return &ValidationError{Path: "priority", Message: "must not be negative"}
	}
	if err := validateConditions(f.Conditions); err != nil {
		return err
	}
	return validateActions(f.Actions)
}

func validateConditions(c Conditions) error {
	switch c.MatchType {
	case MatchAll, MatchAny, "":
	default:
		return &ValidationError{Path: "conditions.match_type", Message: fmt.Sprintf("unknown match type %q", c.MatchType)}
	}

	for i, r := range c.Rules {
		path := fmt.Sprintf("conditions.rules[%d]", i)
		if !knownFields[r.Field] {
			return &ValidationError{Path: path + ".field", Message: fmt.Sprintf("unknown field %q", r.Field)}
		}
		if !knownOperators[r.Operator] {
			return &ValidationError{Path: path + ".operator", Message: fmt.Sprintf("unknown operator %q", r.Operator)}
		}
		if r.Operator == OpMatchesRegex {
			if _, err := regexp.Compile(r.Value); err != nil {
				return &ValidationError{Path: path + ".value", Message: "invalid regular expression"}
			}
		}
	}
	return nil
}

func validateActions(actions Actions) error {
	for _, name := range slices.Sorted(maps.Keys(actions)) {
		v := actions[name]
		path := "actions." + name
		switch {
		case flagActions[name]:
			if _, ok := v.(bool); !ok {
				return &ValidationError{Path: path, Message: "must be a boolean"}
			}
		case stringActions[name]:
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return &ValidationError{Path: path, Message: "must be a non-empty string"}
			}
			if name == ActionForwardTo && !address.Valid(s) {
				return &ValidationError{Path: path, Message: fmt.Sprintf("%q is not a valid email address", s)}
			}
			if name == ActionSetCategory && !categories[s] {
				return &ValidationError{Path: path, Message: fmt.Sprintf("unknown category %q", s)}
			}
		default:
			return &ValidationError{Path: path, Message: "unknown action"}
		}
	}
	return nil
}
