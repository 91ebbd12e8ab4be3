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

// Package classify assigns inbound messages a display category from
// independent bulk, receipt, newsletter and notification detectors.
package classify

import (
	"strings"

	"github.com/k3a/html2text"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// Category is where a message is shown.
type Category string

const (
	CategoryInbox  Category = "inbox"
	CategoryFeed   Category = "feed"
	CategoryLedger Category = "ledger"
)

// Signal is the output of one detector.
type Signal struct {
	Matched bool     `json:"matched"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

func (s *Signal) add(points int, reason string) {
	s.Score += points
	s.Reasons = append(s.Reasons, reason)
}

// Features is the fixed input every detector reads.
type Features struct {
	From    string
	Subject string
	Body    string
	Headers models.Headers
}

// FeaturesFrom extracts detector inputs from a message. HTML-only messages
// are flattened to text first.
func FeaturesFrom(msg *models.NormalizedMessage) Features {
	body := msg.TextBody
	if strings.TrimSpace(body) == "" && msg.HTMLBody != "" {
		body = html2text.HTML2Text(msg.HTMLBody)
	}
	return Features{
		From:    address.Normalize(msg.From),
		Subject: msg.Subject,
		Body:    body,
		Headers: msg.Headers,
	}
}

// Result is the classification of a message. The flags are independent
// of Category: a receipt can still land in the feed.
type Result struct {
	Category       Category `json:"category"`
	IsReceipt      bool     `json:"is_receipt"`
	IsNewsletter   bool     `json:"is_newsletter"`
	IsNotification bool     `json:"is_notification"`
	IsBulk         bool     `json:"is_bulk"`

	Bulk         Signal `json:"bulk"`
	Receipt      Signal `json:"receipt"`
	Newsletter   Signal `json:"newsletter"`
	Notification Signal `json:"notification"`
}

// Categorize runs every detector and picks a category. Newsletter and bulk
// mail go to the feed even when they are also receipts; remaining receipts
// go to the ledger; everything else, including non-bulk notifications,
// stays in the inbox.
func Categorize(msg *models.NormalizedMessage) Result {
	return CategorizeFeatures(FeaturesFrom(msg))
}

// CategorizeFeatures is Categorize over precomputed features.
func CategorizeFeatures(f Features) Result {
	r := Result{
		Bulk:         DetectBulk(f),
		Receipt:      DetectReceipt(f),
		Newsletter:   DetectNewsletter(f),
		Notification: DetectNotification(f),
	}
	r.IsBulk = r.Bulk.Matched
	r.IsReceipt = r.Receipt.Matched
	r.IsNewsletter = r.Newsletter.Matched
	r.IsNotification = r.Notification.Matched

	switch {
	case r.IsNewsletter || r.IsBulk:
		r.Category = CategoryFeed
	case r.IsReceipt:
		r.Category = CategoryLedger
	default:
		r.Category = CategoryInbox
	}
	return r
}
