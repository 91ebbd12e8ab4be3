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

// Package suppression recognises delivery reports, feedback-loop
// complaints and auto-replies, and suppresses recipient addresses that
// hard-bounced or complained so they are not mailed again.
package suppression

import (
	"regexp"
	"strings"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// Signal is the kind of delivery signal a message carries.
type Signal string

const (
	SignalNormal       Signal = "normal"
	SignalDSN          Signal = "dsn"
	SignalFeedbackLoop Signal = "feedback_loop"
	SignalAutoReply    Signal = "auto_reply"
)

// SignalResult holds the individual flags and the winning signal.
// Priority: feedback loop, then DSN, then auto-reply.
type SignalResult struct {
	Signal         Signal `json:"signal"`
	IsDSN          bool   `json:"is_dsn"`
	IsFeedbackLoop bool   `json:"is_feedback_loop"`
	IsAutoReply    bool   `json:"is_auto_reply"`
}

var (
	dsnSubject = regexp.MustCompile(`(?i)(undeliver(able|ed)|delivery (status notification|failure|has failed|incomplete|report)|returned mail|mail delivery (failed|subsystem)|failure notice|non-?delivery|could not be delivered)`)

	complaintSubject = regexp.MustCompile(`(?i)(abuse report|complaint|feedback report|spam report|fbl report)`)

	autoReplySubject = regexp.MustCompile(`(?i)(out of (the )?office|auto(matic)?[- ]?reply|autoreply|vacation (reply|notice|message)|away from (the )?office)`)

	dsnSenders = map[string]bool{"mailer-daemon": true, "postmaster": true, "mail-daemon": true}
)

// ClassifySignal inspects headers, sender and subject for delivery signals.
func ClassifySignal(headers models.Headers, from, subject string) SignalResult {
	contentType := strings.ToLower(headers.Get("Content-Type"))

	r := SignalResult{
		IsDSN: dsnSenders[address.LocalPart(address.Normalize(from))] ||
			dsnSubject.MatchString(subject) ||
			strings.Contains(contentType, "report-type=delivery-status"),
		IsFeedbackLoop: headers.Has("Feedback-Type") ||
			headers.Has("X-Feedback-Id") ||
			strings.Contains(contentType, "report-type=feedback-report") ||
			complaintSubject.MatchString(subject),
		IsAutoReply: isAutoSubmitted(headers.Get("Auto-Submitted")) ||
			autoReplySubject.MatchString(subject),
	}

	switch {
	case r.IsFeedbackLoop:
		r.Signal = SignalFeedbackLoop
	case r.IsDSN:
		r.Signal = SignalDSN
	case r.IsAutoReply:
		r.Signal = SignalAutoReply
	default:
		r.Signal = SignalNormal
	}
	return r
}

func isAutoSubmitted(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v != "" && v != "no"
}
