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

// Package normalize turns untrusted inbound message fields into safe,
// valid UTF-8 values: it repairs encodings, decodes MIME headers, strips
// dangerous HTML and control characters, and re-inlines PGP/MIME parts.
package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mojibakeTargets are punctuation runes whose UTF-8 bytes are commonly
// re-read as Windows-1252 by broken senders ("â€™" instead of "’"):
// smart quotes, dashes, ellipsis, bullet and the no-break space.
// Only these are repaired; other high-bit sequences may be legitimate text.
var mojibakeTargets = []rune{
	'‘', '’', '“', '”',
	'–', '—', '…', '•',
	'\u00a0',
}

var mojibakeReplacer = buildMojibakeReplacer()

// buildMojibakeReplacer derives the garbled form of each target by decoding
// its UTF-8 bytes as Windows-1252. Targets whose garbled form contains
// undefined code points are skipped since they cannot be matched reliably.
func buildMojibakeReplacer() *strings.Replacer {
	dec := charmap.Windows1252.NewDecoder()
	pairs := make([]string, 0, len(mojibakeTargets)*2)
	for _, r := range mojibakeTargets {
		garbled, err := dec.String(string(r))
		if err != nil || garbled == string(r) || containsC1OrReplacement(garbled) {
			continue
		}
		pairs = append(pairs, garbled, string(r))
	}
	return strings.NewReplacer(pairs...)
}

func containsC1OrReplacement(s string) bool {
	for _, r := range s {
		if r == utf8.RuneError || (r >= 0x80 && r <= 0x9F) || r == 0x1A {
			return true
		}
	}
	return false
}

// SanitizeUTF8 converts raw bytes into a valid UTF-8 string.
//
// NUL bytes are dropped since storage rejects them. Invalid bytes are
// replaced one by one with U+FFFD, leaving valid multi-byte sequences
// untouched. Known Windows-1252 mojibake of common punctuation is repaired.
// The result is idempotent: SanitizeUTF8 of its own output is unchanged.
func SanitizeUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); {
		c := b[i]
		if c == 0 {
			i++
			continue
		}
		if c < utf8.RuneSelf {
			sb.WriteByte(c)
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			sb.WriteRune(utf8.RuneError)
			i++
			continue
		}
		sb.Write(b[i : i+size])
		i += size
	}

	return repairMojibake(sb.String())
}

// repairMojibake applies the replacer until the text stops changing. A
// repaired rune can complete another garbled sequence ("Â" followed by a
// repaired no-break space), so a single pass is not a fixed point. Each
// replacement shortens the text, which bounds the loop.
func repairMojibake(s string) string {
	for {
		next := mojibakeReplacer.Replace(s)
		if next == s {
			return s
		}
		s = next
	}
}

// SanitizeString is SanitizeUTF8 for string input.
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return repairMojibake(s)
	}
	return SanitizeUTF8([]byte(s))
}
