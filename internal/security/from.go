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

package security

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// CheckMultipleFromHeaders rejects raw messages whose header block carries
// more than one From field, a common way to show one sender to the user
// while another passes alignment checks. Empty input passes.
func CheckMultipleFromHeaders(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	n := countFromFields(raw)
	if n <= 1 {
		return nil
	}
	return &Rejection{
		Kind:   KindMultipleFromHeaders,
		Detail: fmt.Sprintf("%d From fields", n),
		Err:    ErrMultipleFromHeaders,
	}
}

// countFromFields parses the header block and, since a malformed block
// stops the parser early, also counts From lines directly. The larger
// count wins.
func countFromFields(raw string) int {
	h, _ := textproto.ReadHeader(bufio.NewReader(strings.NewReader(raw)))
	parsed := len(h.Values("From"))

	scanned := 0
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			break
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "From") {
			scanned++
		}
	}

	return max(parsed, scanned)
}
