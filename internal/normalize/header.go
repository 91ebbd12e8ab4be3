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

package normalize

import (
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
)

// MaxHeaderLength is the maximum number of runes kept in a header value.
const MaxHeaderLength = 1000

// Quality score weights. Lower total is cleaner.
const (
	weightC1Control   = 3
	weightReplacement = 2
	weightMojibake    = 2
	weightMarker      = 1
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// DecodeMIMEHeader decodes RFC 2047 encoded-words ("=?UTF-8?B?...?=") in
// text, including words in non-UTF-8 charsets. Doubled quotes left by some
// clients are collapsed and a stray unbalanced quote is removed. Input that
// fails to decode is returned sanitized but otherwise unchanged.
func DecodeMIMEHeader(text string) string {
	if text == "" {
		return ""
	}

	decoded := text
	if strings.Contains(text, "=?") {
		if d, err := wordDecoder.DecodeHeader(text); err == nil {
			decoded = d
		}
	}

	for strings.Contains(decoded, `""`) {
		decoded = strings.ReplaceAll(decoded, `""`, `"`)
	}
	if strings.Count(decoded, `"`) == 1 {
		decoded = strings.Trim(decoded, `"`)
	}

	return SanitizeString(decoded)
}

// QualityScore rates how damaged a decoded string looks. C1 control
// characters, replacement characters, mojibake pairs (Ã or Â followed by a
// Latin-1 continuation character) and stray marker characters all add to
// the score.
func QualityScore(s string) int {
	score := 0
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r >= 0x80 && r <= 0x9F:
			score += weightC1Control
		case r == utf8.RuneError:
			score += weightReplacement
		case r == 'Ã' || r == 'Â':
			if i+1 < len(runes) && runes[i+1] >= 0x80 && runes[i+1] <= 0xBF {
				score += weightMojibake
			} else {
				score += weightMarker
			}
		case r == 'â':
			score += weightMarker
		}
	}
	return score
}

// PickCleanerDecoding returns whichever of two decodings of the same value
// has the lower QualityScore. Ties go to primary.
func PickCleanerDecoding(primary, alternate string) string {
	if alternate == "" {
		return primary
	}
	if primary == "" {
		return alternate
	}
	if QualityScore(alternate) < QualityScore(primary) {
		return alternate
	}
	return primary
}

// SanitizeHeader strips CR, LF, NUL, other C0 controls and DEL from a
// header value, trims it, and truncates it to MaxHeaderLength runes.
func SanitizeHeader(value string) string {
	value = SanitizeString(value)
	value = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, value)
	return truncateRunes(strings.TrimSpace(value), MaxHeaderLength)
}

var injectedHeaderPrefix = regexp.MustCompile(`(?i)^\s*(bcc|cc|to|from|reply-to)\s*:`)

// SanitizeSubject sanitizes a subject like SanitizeHeader and additionally
// removes header keywords smuggled in after a CR/LF injection point, so
// "Hi\r\nBcc: victim@x.org" becomes "Hi victim@x.org".
func SanitizeSubject(value string) string {
	if value == "" {
		return ""
	}
	lines := strings.FieldsFunc(value, func(r rune) bool { return r == '\r' || r == '\n' })
	if len(lines) == 0 {
		return ""
	}
	for i := 1; i < len(lines); i++ {
		lines[i] = injectedHeaderPrefix.ReplaceAllString(lines[i], "")
	}
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return SanitizeHeader(strings.Join(nonEmpty(lines), " "))
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
