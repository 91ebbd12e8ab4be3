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
	"regexp"
	"strings"
	"unicode"

	"github.com/elektrine/ingestion/internal/address"
)

// Backscatter detection thresholds.
const (
	// minBounceIndicators is how many independent indicators must co-occur,
	// one of which must be the recipient pattern.
	minBounceIndicators = 2

	randomHexMinLen      = 16
	randomAlnumMinLen    = 12
	randomDigitRatioPerc = 40
)

var bounceSenders = map[string]bool{
	"mailer-daemon": true,
	"postmaster":    true,
	"mail-daemon":   true,
}

var noReplyLocals = map[string]bool{
	"noreply":      true,
	"no-reply":     true,
	"no_reply":     true,
	"donotreply":   true,
	"do-not-reply": true,
	"do_not_reply": true,
}

var bounceSubject = regexp.MustCompile(`(?i)(undeliver(able|ed)|delivery (status notification|failure|has failed|incomplete)|returned mail|mail delivery (failed|subsystem)|failure notice|non-?delivery|delivery report|could not be delivered)`)

var hexLocal = regexp.MustCompile(`^[0-9a-f]+$`)

// BounceIndicators records which backscatter signals a message shows.
type BounceIndicators struct {
	Sender    bool
	Subject   bool
	Recipient bool
}

// Count returns the number of indicators present.
func (b BounceIndicators) Count() int {
	n := 0
	for _, v := range []bool{b.Sender, b.Subject, b.Recipient} {
		if v {
			n++
		}
	}
	return n
}

// DetectBounceIndicators evaluates each indicator independently.
func DetectBounceIndicators(from, to, subject string) BounceIndicators {
	sender := address.Normalize(from)
	return BounceIndicators{
		Sender:    isNullSender(from) || bounceSenders[address.LocalPart(sender)],
		Subject:   bounceSubject.MatchString(subject),
		Recipient: isBackscatterRecipient(address.LocalPart(address.Canonical(to))),
	}
}

// CheckBounceAttack rejects bounces aimed at addresses we would never have
// sent from. Genuine delivery reports, which arrive at real mailboxes,
// show at most the sender and subject indicators and pass.
func CheckBounceAttack(from, to, subject string) error {
	ind := DetectBounceIndicators(from, to, subject)
	if !ind.Recipient || ind.Count() < minBounceIndicators {
		return nil
	}
	return &Rejection{Kind: KindBounceAttack, Detail: "bounce to non-sending recipient", Err: ErrBounceAttack}
}

func isBackscatterRecipient(local string) bool {
	if local == "" {
		return false
	}
	if noReplyLocals[local] {
		return true
	}
	return looksRandom(local)
}

// looksRandom matches generated local parts such as VERP tokens or hashes.
func looksRandom(local string) bool {
	if len(local) >= randomHexMinLen && hexLocal.MatchString(local) {
		return true
	}
	if len(local) < randomAlnumMinLen {
		return false
	}
	digits := 0
	for _, r := range local {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
		default:
			return false
		}
	}
	return digits*100 >= len(local)*randomDigitRatioPerc
}

// isNullSender reports whether from is the SMTP null reverse path.
func isNullSender(from string) bool {
	f := strings.TrimSpace(from)
	return f == "" || f == "<>"
}
