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

// Package dedup makes redelivery of the same message a no-op. Async
// submissions are claimed in Redis with SET NX and a TTL; synchronous
// processing checks the message store for exact and near duplicates.
package dedup

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"lukechampine.com/blake3"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

const (
	// DefaultTTL is how long a claimed idempotency key is remembered.
	// MTAs give up retrying well within a day.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces idempotency keys in Redis.
	keyPrefix = "inbound:seen:"
)

// Filter tracks which idempotency keys have already been accepted.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis. A non-positive ttl
// selects DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim returns true if the key has NOT been claimed before.
// If true, the key is marked as claimed atomically (SETNX).
func (f *Filter) Claim(ctx context.Context, key string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, keyPrefix+key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Release forgets a claim so a later redelivery can be accepted. Used when
// the claimed message could not be enqueued.
func (f *Filter) Release(ctx context.Context, key string) error {
	if err := f.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Key derives the idempotency key for an envelope: a hex BLAKE3 digest over
// the recipient and the message ID, or over subject, sender and a digest of
// the text body when the message ID cannot be trusted.
func Key(env *models.InboundEnvelope) string {
	return digest("v1", address.Canonical(env.EnvelopeRecipient()), env)
}

// ForwardKey derives the idempotency key for forwarding env through an
// external alias. It never equals Key for the same envelope, so a queued
// job can still claim its forward.
func ForwardKey(env *models.InboundEnvelope, alias string) string {
	return digest("fwd1", address.Canonical(alias), env)
}

func digest(version, scope string, env *models.InboundEnvelope) string {
	parts := []string{version, scope}
	if id := strings.TrimSpace(env.MessageID); TrustedMessageID(id) {
		parts = append(parts, "id", strings.Trim(id, "<>"))
	} else {
		body := blake3.Sum256([]byte(env.TextBody))
		parts = append(parts, "content",
			strings.TrimSpace(env.Subject),
			address.Normalize(env.From),
			hex.EncodeToString(body[:]),
		)
	}

	// Length-prefix each field so no two field lists encode the same.
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(strconv.Itoa(len(p)))
		sb.WriteByte(':')
		sb.WriteString(p)
	}
	sum := blake3.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// TrustedMessageID reports whether a Message-ID can identify a message:
// it must be non-empty, contain '@', and not be a placeholder the MTA
// invented because the sender omitted one.
func TrustedMessageID(id string) bool {
	id = strings.Trim(strings.TrimSpace(id), "<>")
	if id == "" || !strings.Contains(id, "@") {
		return false
	}
	local, domain := address.Split(strings.ToLower(id))
	if local == "" || domain == "" {
		return false
	}
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(local, p) {
			return false
		}
	}
	return domain != "localhost" && domain != "localhost.localdomain"
}

// placeholderPrefixes are local parts the edge MTA uses for generated IDs.
var placeholderPrefixes = []string{"missing-", "generated-", "noid-"}
