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

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// Structured report fields, most reliable first.
var recipientFields = []string{
	"Final-Recipient",
	"Original-Recipient",
	"X-Failed-Recipients",
	"Original-Rcpt-To",
}

var (
	structuredLine = regexp.MustCompile(`(?im)^[ \t]*(final-recipient|original-recipient|x-failed-recipients|original-rcpt-to)[ \t]*:[ \t]*(.+)$`)
	emailPattern   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// ExtractRecipient finds the address a delivery report or complaint is
// about. Structured report fields in the headers are tried first, then the
// same fields inside the body, then any address in the body. The mailbox's
// own address, hosted domains and report daemons are never returned.
// Returns "" when no candidate qualifies.
func ExtractRecipient(headers models.Headers, body, mailboxAddr string, hosted address.Domains) string {
	own := address.Canonical(mailboxAddr)
	accept := func(candidate string) string {
		addr := address.Normalize(candidate)
		if !address.Valid(addr) {
			return ""
		}
		if address.StripPlusTag(addr) == own || hosted.Hosts(address.Domain(addr)) {
			return ""
		}
		if dsnSenders[address.LocalPart(addr)] {
			return ""
		}
		return addr
	}

	for _, name := range recipientFields {
		if got := fromFieldValue(headers.Get(name), accept); got != "" {
			return got
		}
	}

	for _, m := range structuredLine.FindAllStringSubmatch(body, -1) {
		if got := fromFieldValue(m[2], accept); got != "" {
			return got
		}
	}

	for _, candidate := range emailPattern.FindAllString(body, -1) {
		if got := accept(candidate); got != "" {
			return got
		}
	}
	return ""
}

// fromFieldValue parses values like "rfc822; user@x.org" or a comma list.
func fromFieldValue(value string, accept func(string) string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, after, ok := strings.Cut(value, ";"); ok {
		value = after
	}
	for _, part := range strings.Split(value, ",") {
		if got := accept(strings.TrimSpace(part)); got != "" {
			return got
		}
	}
	return ""
}
