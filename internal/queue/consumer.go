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


package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elektrine/ingestion/internal/metrics"
)

// DeadLetter is the record kept for a job that will not be retried.
type DeadLetter struct {
	Job      *Job            `json:"job,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Reason   string          `json:"reason"`
	FailedAt time.Time       `json:"failed_at"`
}

// Consumer takes jobs from the ingest list and settles them. A popped job
// is moved atomically onto a processing list and stays there, with a
// lease recording when it was taken, until it is acknowledged, requeued
// or dead-lettered. Jobs whose worker died are returned to the queue by
// Reclaim once their lease is stale.
type Consumer struct {
	rdb        *redis.Client
	queueName  string
	processing string
	leases     string
	deadLetter string
}

// NewConsumer creates a consumer for queueName. The processing list and
// lease hash are named after it.
func NewConsumer(rdb *redis.Client, queueName, deadLetter string) *Consumer {
	return &Consumer{
		rdb:        rdb,
		queueName:  queueName,
		processing: queueName + ":processing",
		leases:     queueName + ":leases",
		deadLetter: deadLetter,
	}
}

// settleScript removes a payload from the processing list and drops its
// lease. When a destination list is given the replacement payload is
// pushed there, but only if this call removed the original: a job already
// reclaimed by another consumer is not pushed twice.
var settleScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 1, ARGV[1])
if removed == 0 then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[2])
if #KEYS > 2 then
  redis.call('LPUSH', KEYS[3], ARGV[3])
end
return removed
`)

// Pop blocks up to timeout for the next job and leases it. It returns
// nil, nil when the wait times out. Payloads that do not decode are moved
// to the dead-letter list and skipped.
func (c *Consumer) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	raw, err := c.rdb.BLMove(ctx, c.queueName, c.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis BLMOVE %s: %w", c.queueName, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.Envelope == nil {
		reason := "missing envelope"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("dropping malformed job", "queue", c.queueName, "error", reason)
		if dlErr := c.parkRaw(ctx, raw, reason); dlErr != nil {
			return nil, dlErr
		}
		return nil, nil
	}
	job.payload = raw

	if err := c.rdb.HSet(ctx, c.leases, job.ID.String(), time.Now().UnixMilli()).Err(); err != nil {
		// Reclaim leases unleased entries on first sight, so the job is
		// still recovered if it is never settled.
		slog.Warn("failed to record job lease", "job_id", job.ID, "error", err)
	}
	return &job, nil
}

// Ack removes a finished job from the processing list.
func (c *Consumer) Ack(ctx context.Context, job *Job) error {
	if job.payload == "" {
		return nil
	}
	err := settleScript.Run(ctx, c.rdb, []string{c.processing, c.leases}, job.payload, job.ID.String()).Err()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// Requeue pushes job back for another attempt.
func (c *Consumer) Requeue(ctx context.Context, job *Job) error {
	next := *job
	next.Attempt++
	next.EnqueuedAt = time.Now().UTC()
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := c.move(ctx, job, c.queueName, payload); err != nil {
		return fmt.Errorf("requeue job %s: %w", job.ID, err)
	}
	return nil
}

// DeadLetter parks job with the reason it failed.
func (c *Consumer) DeadLetter(ctx context.Context, job *Job, reason string) error {
	payload, err := json.Marshal(DeadLetter{Job: job, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if _, err := c.move(ctx, job, c.deadLetter, payload); err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

// Reclaim returns jobs whose lease is older than staleAfter to the queue,
// or parks them once they reach maxAttempts. Entries without a lease are
// leased now and left for a later pass. It reports how many jobs moved.
func (c *Consumer) Reclaim(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, error) {
	entries, err := c.rdb.LRange(ctx, c.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LRANGE %s: %w", c.processing, err)
	}

	now := time.Now()
	moved := 0
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil || job.Envelope == nil {
			if err := c.parkRaw(ctx, raw, "malformed job in processing list"); err != nil {
				return moved, err
			}
			continue
		}
		job.payload = raw
		id := job.ID.String()

		started, err := c.rdb.HGet(ctx, c.leases, id).Int64()
		if errors.Is(err, redis.Nil) {
			if err := c.rdb.HSetNX(ctx, c.leases, id, now.UnixMilli()).Err(); err != nil {
				return moved, fmt.Errorf("redis HSETNX %s: %w", c.leases, err)
			}
			continue
		}
		if err != nil {
			return moved, fmt.Errorf("redis HGET %s: %w", c.leases, err)
		}
		if now.Sub(time.UnixMilli(started)) < staleAfter {
			continue
		}

		var ok bool
		if job.Attempt >= maxAttempts {
			payload, merr := json.Marshal(DeadLetter{Job: &job, Reason: "lease expired", FailedAt: now.UTC()})
			if merr != nil {
				return moved, fmt.Errorf("marshal dead letter: %w", merr)
			}
			ok, err = c.move(ctx, &job, c.deadLetter, payload)
		} else {
			next := job
			next.Attempt++
			next.EnqueuedAt = now.UTC()
			payload, merr := json.Marshal(&next)
			if merr != nil {
				return moved, fmt.Errorf("marshal job: %w", merr)
			}
			ok, err = c.move(ctx, &job, c.queueName, payload)
		}
		if err != nil {
			return moved, fmt.Errorf("reclaim job %s: %w", id, err)
		}
		if ok {
			slog.Warn("reclaimed abandoned job", "job_id", id, "attempt", job.Attempt, "queue", c.queueName)
			moved++
		}
	}
	return moved, nil
}

// move settles job onto dest with payload. A job that was never leased is
// pushed directly. It reports false when the lease had already been
// settled elsewhere and nothing was pushed.
func (c *Consumer) move(ctx context.Context, job *Job, dest string, payload []byte) (bool, error) {
	if job.payload == "" {
		if err := c.rdb.LPush(ctx, dest, payload).Err(); err != nil {
			return false, fmt.Errorf("redis LPUSH %s: %w", dest, err)
		}
		return true, nil
	}

	removed, err := settleScript.Run(ctx, c.rdb,
		[]string{c.processing, c.leases, dest},
		job.payload, job.ID.String(), payload,
	).Int64()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		slog.Warn("job lease already settled", "job_id", job.ID, "queue", c.queueName)
		return false, nil
	}
	return true, nil
}

// parkRaw moves an undecodable processing entry to the dead-letter list.
func (c *Consumer) parkRaw(ctx context.Context, raw, reason string) error {
	payload, err := json.Marshal(DeadLetter{Raw: json.RawMessage(quoteIfInvalid(raw)), Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	err = settleScript.Run(ctx, c.rdb, []string{c.processing, c.leases, c.deadLetter}, raw, "", payload).Err()
	if err != nil {
		return fmt.Errorf("park malformed job: %w", err)
	}
	return nil
}

// Depth reports the ingest list length and records it as a gauge.
func (c *Consumer) Depth(ctx context.Context) (int64, error) {
	n, err := c.rdb.LLen(ctx, c.queueName).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LLEN %s: %w", c.queueName, err)
	}
	metrics.QueueDepth.WithLabelValues(c.queueName).Set(float64(n))
	return n, nil
}

// quoteIfInvalid keeps a non-JSON payload embeddable in the dead letter.
func quoteIfInvalid(raw string) []byte {
	if json.Valid([]byte(raw)) {
		return []byte(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
