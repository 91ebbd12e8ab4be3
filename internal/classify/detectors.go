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

package classify

import (
	"regexp"
	"strings"

	"github.com/elektrine/ingestion/internal/address"
)

// Detector thresholds and weights.
const (
	// Points for a strong bulk signal. One is enough.
	bulkStrongScore = 3
	// Weak bulk signals needed when no strong signal is present.
	bulkMinWeakSignals = 2
	// "unsubscribe" occurrences in the body that count as a weak signal.
	unsubscribeDensityMin = 2

	// Money indicators in the body that mark a receipt without a subject hit.
	receiptMinMoneyIndicators = 2
	receiptSubjectScore       = 3
)

var (
	precedenceBulk = map[string]bool{"bulk": true, "list": true, "junk": true}

	// Header names that only bulk senders set.
	campaignHeaders = []string{
		"x-mailgun-campaign-id",
		"x-ses-outgoing",
		"feedback-id",
	}
	campaignHeaderPrefixes = []string{"x-campaign", "x-mailchimp-"}

	automatedPhrasing = regexp.MustCompile(`(?i)(this (is an automated|e-?mail was (sent|generated) automatically)|do not reply to this (e-?mail|message)|you are receiving this (e-?mail|because)|please do not reply)`)

	receiptSubject = regexp.MustCompile(`(?i)\b(receipt|invoice|order confirmation|payment confirmation|your order)\b`)

	moneyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[$€£]\s?\d[\d,]*(\.\d{2})?`),
		regexp.MustCompile(`\b\d[\d,]*(\.\d{2})?\s?(USD|EUR|GBP)\b`),
		regexp.MustCompile(`(?i)\b(sub)?total\b`),
		regexp.MustCompile(`(?i)\bamount due\b`),
		regexp.MustCompile(`(?i)\border\s*#`),
		regexp.MustCompile(`(?i)\b(receipt|payment|invoice)\b`),
	}

	newsletterSubject = regexp.MustCompile(`(?i)(digest|newsletter|edition|issue\s*#?\s*\d+|(weekly|monthly)\s+(roundup|recap|update))`)

	newsletterPlatforms = []string{
		"substack.com", "mailchimp.com", "mcsv.net", "mcdlv.net", "beehiiv.com",
		"convertkit.com", "ck.page", "buttondown.email", "ghost.io",
		"sendinblue.com", "brevo.com", "campaign-archive.com",
	}

	notificationPhrasing = regexp.MustCompile(`(?i)(security alert|password reset|reset your password|two-factor|2fa|verification code|verify your (e-?mail|account)|sign-?in (alert|attempt)|new (sign-?in|login)|login attempt|one-time (code|password)|account (alert|activity)|automated (message|notification))`)
)

// DetectBulk reports mass-mailed messages. Any strong header signal is
// enough; otherwise at least bulkMinWeakSignals weak signals are needed.
func DetectBulk(f Features) Signal {
	var s Signal
	strong := 0

	if f.Headers.Has("List-Unsubscribe") {
		strong++
		s.add(bulkStrongScore, "list-unsubscribe header")
	}
	if precedenceBulk[strings.ToLower(strings.TrimSpace(f.Headers.Get("Precedence")))] {
		strong++
		s.add(bulkStrongScore, "precedence header")
	}
	if name, ok := campaignHeader(f); ok {
		strong++
		s.add(bulkStrongScore, "campaign header "+name)
	}

	weak := 0
	if strings.Count(strings.ToLower(f.Body), "unsubscribe") >= unsubscribeDensityMin {
		weak++
		s.add(1, "unsubscribe density")
	}
	if isNoReply(f.From) {
		weak++
		s.add(1, "no-reply sender")
	}
	if automatedPhrasing.MatchString(f.Body) {
		weak++
		s.add(1, "automated phrasing")
	}

	s.Matched = strong > 0 || weak >= bulkMinWeakSignals
	return s
}

func campaignHeader(f Features) (string, bool) {
	for name, v := range f.Headers {
		if strings.TrimSpace(v) == "" {
			continue
		}
		lower := strings.ToLower(name)
		for _, h := range campaignHeaders {
			if lower == h {
				return lower, true
			}
		}
		for _, p := range campaignHeaderPrefixes {
			if strings.HasPrefix(lower, p) {
				return lower, true
			}
		}
	}
	return "", false
}

func isNoReply(from string) bool {
	local := strings.ReplaceAll(address.LocalPart(from), "_", "-")
	return strings.HasPrefix(local, "noreply") ||
		strings.HasPrefix(local, "no-reply") ||
		strings.HasPrefix(local, "donotreply") ||
		strings.HasPrefix(local, "do-not-reply")
}

// DetectReceipt reports purchase receipts and invoices: a subject keyword,
// or enough money indicators in the body.
func DetectReceipt(f Features) Signal {
	var s Signal
	if receiptSubject.MatchString(f.Subject) {
		s.add(receiptSubjectScore, "receipt subject")
	}

	indicators := 0
	for _, re := range moneyPatterns {
		indicators += len(re.FindAllStringIndex(f.Body, -1))
	}
	if indicators > 0 {
		s.add(indicators, "money indicators")
	}

	s.Matched = receiptSubject.MatchString(f.Subject) || indicators >= receiptMinMoneyIndicators
	return s
}

// DetectNewsletter reports editorial mailings: a List-Unsubscribe header, a
// newsletter-style subject, or a newsletter platform sender whose body
// offers an unsubscribe link.
func DetectNewsletter(f Features) Signal {
	var s Signal
	if f.Headers.Has("List-Unsubscribe") {
		s.add(1, "list-unsubscribe header")
	}
	if newsletterSubject.MatchString(f.Subject) {
		s.add(1, "newsletter subject")
	}
	if onPlatform(f.From) && strings.Contains(strings.ToLower(f.Body), "unsubscribe") {
		s.add(1, "newsletter platform")
	}
	s.Matched = s.Score > 0
	return s
}

func onPlatform(from string) bool {
	domain := address.Domain(from)
	if domain == "" {
		return false
	}
	for _, p := range newsletterPlatforms {
		if domain == p || strings.HasSuffix(domain, "."+p) {
			return true
		}
	}
	return false
}

// DetectNotification reports account and security notices.
func DetectNotification(f Features) Signal {
	var s Signal
	if notificationPhrasing.MatchString(f.Subject) {
		s.add(2, "notification subject")
	}
	if notificationPhrasing.MatchString(f.Body) {
		s.add(1, "notification body")
	}
	s.Matched = s.Score > 0
	return s
}
