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

// Package filters evaluates user-defined mail rules. Conditions are a small
// typed AST of field, operator and value; matching filters contribute
// actions that are merged in priority order.
package filters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Field is a message attribute a rule can test.
type Field string

const (
	FieldFrom          Field = "from"
	FieldTo            Field = "to"
	FieldCc            Field = "cc"
	FieldSubject       Field = "subject"
	FieldBody          Field = "body"
	FieldHasAttachment Field = "has_attachment"
)

var knownFields = map[Field]bool{
	FieldFrom: true, FieldTo: true, FieldCc: true,
	FieldSubject: true, FieldBody: true, FieldHasAttachment: true,
}

// Operator is a comparison applied to a field value.
type Operator string

const (
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpMatchesRegex Operator = "matches_regex"
	OpGreaterThan  Operator = "greater_than"
)

var knownOperators = map[Operator]bool{
	OpContains: true, OpNotContains: true, OpEquals: true, OpNotEquals: true,
	OpStartsWith: true, OpEndsWith: true, OpMatchesRegex: true, OpGreaterThan: true,
}

// MatchType combines rule results.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Rule is one condition.
type Rule struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// UnmarshalJSON accepts string, number and boolean values.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field    string          `json:"field"`
		Operator string          `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Field = Field(raw.Field)
	r.Operator = Operator(raw.Operator)
	r.Value = ""

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("rule value: %w", err)
		}
		r.Value = s
	case v[0] == '{' || v[0] == '[':
		return fmt.Errorf("rule value must be a scalar")
	default:
		r.Value = string(v)
	}
	return nil
}

// Conditions is the rule tree of a filter.
type Conditions struct {
	MatchType MatchType `json:"match_type"`
	Rules     []Rule    `json:"rules"`
}

// UnmarshalJSON decodes conditions and rejects unknown enum values.
func (c *Conditions) UnmarshalJSON(data []byte) error {
	parsed, err := ParseConditions(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConditions decodes a JSON conditions object. A missing match_type
// means "all". Unknown match types, fields and operators are errors.
func ParseConditions(data []byte) (Conditions, error) {
	var raw struct {
		MatchType string `json:"match_type"`
		Rules     []Rule `json:"rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Conditions{}, &ValidationError{Path: "conditions", Message: err.Error()}
	}

	c := Conditions{MatchType: MatchType(raw.MatchType), Rules: raw.Rules}
	if c.MatchType == "" {
		c.MatchType = MatchAll
	}
	if err := validateConditions(c); err != nil {
		return Conditions{}, err
	}
	return c, nil
}

// Actions maps action names to their arguments, e.g. {"label": "work"}.
type Actions map[string]any

// Bool reports whether a flag action is set to true.
func (a Actions) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// String returns a string action argument.
func (a Actions) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Filter is a user's mail rule.
type Filter struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	Name           string     `json:"name"`
	Conditions     Conditions `json:"conditions"`
	Actions        Actions    `json:"actions"`
	Priority       int        `json:"priority"`
	StopProcessing bool       `json:"stop_processing"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
