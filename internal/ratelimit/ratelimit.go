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


// Package ratelimit implements a per-user fixed-window limiter for
// outbound sends, shared across instances through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:outbound:"

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most limit sends per user per window. A nil Limiter or
// a non-positive limit allows everything.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter. It returns nil when limit is not positive.
func New(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow counts one send for userID in the current window.
func (l *Limiter) Allow(ctx context.Context, userID int64) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	key := keyPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit INCR: %w", err)
	}

	count := int(incr.Val())
	if count > l.limit {
		windowEnd := time.Unix(0, (slot+1)*int64(l.window))
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}
