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
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/elektrine/ingestion/internal/models"
)

// maxCachedPatterns bounds the compiled regex cache. Patterns come from
// user filters, so the set of sources is unbounded.
const maxCachedPatterns = 1024

// compiled caches regex patterns by source, least recently used evicted
// first. Invalid patterns are cached as nil so they are not recompiled on
// every message.
var compiled = newPatternCache(maxCachedPatterns)

func newPatternCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

func compilePattern(pattern string) *regexp.Regexp {
	if re, ok := compiled.Get(pattern); ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	compiled.Add(pattern, re)
	return re
}

// Matches reports whether msg satisfies the filter's conditions. With
// match type "all" an empty rule list matches; with "any" it does not.
func Matches(f *Filter, msg *models.NormalizedMessage) bool {
	return f.Conditions.Matches(msg)
}

// Matches evaluates the conditions against msg.
func (c Conditions) Matches(msg *models.NormalizedMessage) bool {
	switch c.MatchType {
	case MatchAny:
		for _, r := range c.Rules {
			if r.Matches(msg) {
				return true
			}
		}
		return false
	case MatchAll, "":
		for _, r := range c.Rules {
			if !r.Matches(msg) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Matches evaluates one rule. A field without a value never matches,
// whatever the operator.
func (r Rule) Matches(msg *models.NormalizedMessage) bool {
	if msg == nil {
		return false
	}
	raw, ok := fieldValue(r.Field, msg)
	if !ok {
		return false
	}

	value := strings.ToLower(raw)
	want := strings.ToLower(r.Value)

	switch r.Operator {
	case OpContains:
		return strings.Contains(value, want)
	case OpNotContains:
		return !strings.Contains(value, want)
	case OpEquals:
		return value == want
	case OpNotEquals:
		return value != want
	case OpStartsWith:
		return strings.HasPrefix(value, want)
	case OpEndsWith:
		return strings.HasSuffix(value, want)
	case OpMatchesRegex:
		re := compilePattern(r.Value)
		return re != nil && re.MatchString(raw)
	case OpGreaterThan:
		threshold, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			return false
		}
		return numericValue(r.Field, raw) > threshold
	default:
		return false
	}
}

// fieldValue resolves a rule field against the message. The second result
// is false when the message has no value for the field.
func fieldValue(field Field, msg *models.NormalizedMessage) (string, bool) {
	var v string
	switch field {
	case FieldFrom:
		v = msg.From
	case FieldTo:
		v = msg.To
	case FieldCc:
		v = msg.Cc
	case FieldSubject:
		v = msg.Subject
	case FieldBody:
		v = msg.Body()
	case FieldHasAttachment:
		return strconv.FormatBool(msg.HasAttachments()), true
	default:
		return "", false
	}
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// numericValue interprets a field value for greater_than: attachment
// presence as 1 or 0, numeric text as its number, other text as its length.
func numericValue(field Field, value string) float64 {
	if field == FieldHasAttachment {
		if value == "true" {
			return 1
		}
		return 0
	}
	if n, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return n
	}
	return float64(utf8.RuneCountInString(value))
}
