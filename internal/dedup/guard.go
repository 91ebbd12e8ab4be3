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

package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// DefaultNearDuplicateWindow bounds how far back near-duplicate matching
// looks for messages without a usable Message-ID.
const DefaultNearDuplicateWindow = 5 * time.Minute

// MessageStore is the subset of message storage the guard reads.
// FindByMessageID returns nil, nil when nothing matches.
type MessageStore interface {
	FindByMessageID(ctx context.Context, mailboxID int64, messageID string) (*models.StoredMessage, error)
	FindRecentSimilar(ctx context.Context, mailboxID int64, from, subject string, since time.Time) ([]*models.StoredMessage, error)
}

// Guard detects messages already stored in a mailbox.
type Guard struct {
	store  MessageStore
	window time.Duration
	now    func() time.Time
}

// NewGuard creates a Guard. A non-positive window selects
// DefaultNearDuplicateWindow.
func NewGuard(store MessageStore, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultNearDuplicateWindow
	}
	return &Guard{store: store, window: window, now: time.Now}
}

// Check returns the stored record that msg duplicates, or nil.
//
// Messages with a trusted Message-ID match exactly on (mailbox, ID).
// Others match a message in the same mailbox with identical subject and
// sender stored within the window, provided their envelope recipients
// agree when both are known. Distinct messages that share all of these
// within the window are treated as duplicates.
func (g *Guard) Check(ctx context.Context, mailboxID int64, msg *models.NormalizedMessage) (*models.StoredMessage, error) {
	if TrustedMessageID(msg.MessageID) {
		existing, err := g.store.FindByMessageID(ctx, mailboxID, msg.MessageID)
		if err != nil {
			return nil, fmt.Errorf("find by message id: %w", err)
		}
		return existing, nil
	}

	since := g.now().Add(-g.window)
	candidates, err := g.store.FindRecentSimilar(ctx, mailboxID, msg.From, msg.Subject, since)
	if err != nil {
		return nil, fmt.Errorf("find recent similar: %w", err)
	}

	rcpt := address.Canonical(msg.RcptTo)
	for _, c := range candidates {
		other := address.Canonical(c.RcptTo)
		if rcpt != "" && other != "" && rcpt != other {
			continue
		}
		return c, nil
	}
	return nil, nil
}
