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
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// leftoverTag catches script/iframe openers that survive tokenization
// inside raw-text elements such as <noscript> or <textarea>.
var leftoverTag = regexp.MustCompile(`(?i)<(script|iframe)`)

func isStrippedElement(name []byte) bool {
	return bytes.Equal(name, []byte("script")) || bytes.Equal(name, []byte("iframe"))
}

// SanitizeHTML removes <script> and <iframe> elements, including their
// content, from an HTML body. Every other token is copied byte for byte,
// so links and formatting are preserved exactly as the sender wrote them.
func SanitizeHTML(body string) string {
	if body == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(body))
	var sb strings.Builder
	sb.Grow(len(body))

	depth := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		// TagName lower-cases the underlying buffer, so copy first.
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken:
			if name, _ := z.TagName(); isStrippedElement(name) {
				depth++
				continue
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isStrippedElement(name) {
				if depth > 0 {
					depth--
				}
				continue
			}
		case html.SelfClosingTagToken:
			if name, _ := z.TagName(); isStrippedElement(name) {
				continue
			}
		case html.CommentToken:
			if leftoverTag.Match(raw) {
				continue
			}
		}

		if depth > 0 {
			continue
		}
		sb.Write(raw)
	}

	return leftoverTag.ReplaceAllString(sb.String(), "&lt;$1")
}
