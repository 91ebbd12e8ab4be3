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

package suppression

import (
	"regexp"
	"strings"
)

var (
	enhancedCode = regexp.MustCompile(`[245]\.\d{1,3}\.\d{1,3}`)
	basicHard    = regexp.MustCompile(`\b550\b`)
)

// Checked before the hard list so ambiguous reports stay soft.
var softPhrases = []string{
	"mailbox full",
	"mailbox is full",
	"quota exceeded",
	"over quota",
	"insufficient storage",
	"temporarily",
	"try again later",
	"greylist",
	"rate limit",
}

var hardPhrases = []string{
	"user unknown",
	"unknown user",
	"no such user",
	"no such recipient",
	"recipient unknown",
	"recipient address rejected",
	"address rejected",
	"invalid recipient",
	"mailbox unavailable",
	"mailbox not found",
	"does not exist",
	"account disabled",
	"account has been disabled",
	"address not found",
}

// IsHardBounce reports whether a delivery report describes a permanent
// failure. The first enhanced status code decides (5.x.x hard, 4.x.x
// soft); otherwise a literal 550 is hard; otherwise known phrases decide.
// Anything unrecognised is treated as soft.
func IsHardBounce(text string) bool {
	if text == "" {
		return false
	}

	if class, ok := firstStatusClass(text); ok {
		return class == '5'
	}
	if basicHard.MatchString(text) {
		return true
	}

	lower := strings.ToLower(text)
	for _, p := range softPhrases {
		if strings.Contains(lower, p) {
			return false
		}
	}
	for _, p := range hardPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// firstStatusClass returns the class digit of the first enhanced status
// code that stands alone, skipping 2.x.x success codes and fragments of
// longer dotted numbers such as IP addresses or version strings.
func firstStatusClass(text string) (byte, bool) {
	for _, loc := range enhancedCode.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if start > 0 && isDigitOrDot(text[start-1]) {
			continue
		}
		if end < len(text) && (isDigit(text[end]) || (text[end] == '.' && end+1 < len(text) && isDigit(text[end+1]))) {
			continue
		}
		class := text[start]
		if class == '2' {
			continue
		}
		return class, true
	}
	return 0, false
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isDigitOrDot(c byte) bool { return isDigit(c) || c == '.' }
