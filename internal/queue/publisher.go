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


// Package queue moves ingestion work through Redis lists. Producers LPUSH
// JSON jobs and workers BLMOVE them onto a processing list, giving FIFO
// order per list and at-least-once delivery.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/elektrine/ingestion/internal/models"
)

// Job is one inbound message waiting for asynchronous processing. Attempt
// starts at 1 and grows with every retry.
type Job struct {
	ID         uuid.UUID               `json:"id"`
	Key        string                  `json:"idempotency_key"`
	Attempt    int                     `json:"attempt"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
	Envelope   *models.InboundEnvelope `json:"envelope"`

	// payload is the exact list entry the job was popped from.
	payload string
}

// ForwardJob hands a message addressed to an external alias target to the
// outbound sender.
type ForwardJob struct {
	ID         uuid.UUID               `json:"id"`
	UserID     int64                   `json:"user_id"`
	AliasEmail string                  `json:"alias_email"`
	Target     string                  `json:"target"`
	EnqueuedAt time.Time               `json:"enqueued_at"`
	Envelope   *models.InboundEnvelope `json:"envelope"`
}

// Publisher pushes jobs onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a publisher targeting the named list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// NewJob builds the first attempt of a job for env.
func NewJob(env *models.InboundEnvelope, key string) *Job {
	return &Job{
		ID:         uuid.New(),
		Key:        key,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
		Envelope:   env,
	}
}

// Publish enqueues a job.
func (p *Publisher) Publish(ctx context.Context, job *Job) error {
	if err := p.push(ctx, job); err != nil {
		return err
	}
	slog.Info("published ingest job",
		"job_id", job.ID,
		"attempt", job.Attempt,
		"message_id", job.Envelope.MessageID,
		"queue", p.queueName,
	)
	return nil
}

// PublishForward enqueues a forward hand-off.
func (p *Publisher) PublishForward(ctx context.Context, job *ForwardJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := p.push(ctx, job); err != nil {
		return err
	}
	slog.Info("published forward job",
		"job_id", job.ID,
		"user_id", job.UserID,
		"target", job.Target,
		"queue", p.queueName,
	)
	return nil
}

func (p *Publisher) push(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := p.rdb.LPush(ctx, p.queueName, payload).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", p.queueName, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
