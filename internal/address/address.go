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

// Package address normalises email addresses and answers questions about
// the domains hosted by this system.
package address

import (
	"net/mail"
	"strings"
)

// Normalize extracts the bare address from a header value such as
// `"Jane" <Jane@Example.com>` and lower-cases it. Values that do not parse
// are trimmed of angle brackets and returned lower-cased.
func Normalize(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	// Multiple recipients: use the first.
	if list, err := mail.ParseAddressList(value); err == nil && len(list) > 0 {
		return strings.ToLower(list[0].Address)
	}
	if i := strings.LastIndexByte(value, '<'); i >= 0 {
		if j := strings.IndexByte(value[i:], '>'); j > 0 {
			value = value[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.Trim(strings.TrimSpace(value), "<>"))
}

// Split returns the local part and domain of a normalised address. The
// domain is empty when the address has no '@'.
func Split(addr string) (local, domain string) {
	i := strings.LastIndexByte(addr, '@')
	if i < 0 {
		return addr, ""
	}
	return addr[:i], addr[i+1:]
}

// LocalPart returns the part before the '@'.
func LocalPart(addr string) string {
	local, _ := Split(addr)
	return local
}

// Domain returns the part after the last '@'.
func Domain(addr string) string {
	_, domain := Split(addr)
	return domain
}

// StripPlusTag removes "+tag" plus-addressing from the local part:
// "user+news@x.org" becomes "user@x.org".
func StripPlusTag(addr string) string {
	local, domain := Split(addr)
	if i := strings.IndexByte(local, '+'); i > 0 {
		local = local[:i]
	}
	if domain == "" {
		return local
	}
	return local + "@" + domain
}

// Canonical normalises a header value and strips any plus tag.
func Canonical(value string) string {
	return StripPlusTag(Normalize(value))
}

// Valid reports whether value is a single syntactically valid address.
func Valid(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	a, err := mail.ParseAddress(value)
	if err != nil {
		return false
	}
	local, domain := Split(a.Address)
	return local != "" && strings.Contains(domain, ".")
}

// Domains is the set of domains hosted by this system.
type Domains map[string]struct{}

// NewDomains builds a domain set. Entries are lower-cased and trimmed.
func NewDomains(domains []string) Domains {
	set := make(Domains, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

// Hosts reports whether domain is hosted locally.
func (d Domains) Hosts(domain string) bool {
	_, ok := d[strings.ToLower(domain)]
	return ok
}

// IsLocal reports whether the address (any header form) is on a hosted domain.
func (d Domains) IsLocal(value string) bool {
	domain := Domain(Normalize(value))
	return domain != "" && d.Hosts(domain)
}
