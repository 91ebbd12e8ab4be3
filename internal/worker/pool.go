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


// Package worker drains the ingest queue with a fixed pool of goroutines.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/elektrine/ingestion/internal/metrics"
	"github.com/elektrine/ingestion/internal/queue"
)

// Defaults applied by NewPool to zero config values.
const (
	DefaultConcurrency   = 4
	DefaultJobTimeout    = 60 * time.Second
	DefaultMaxAttempts   = 5
	DefaultPollTimeout   = 5 * time.Second
	DefaultDepthInterval = 15 * time.Second
	DefaultReclaimEvery  = 30 * time.Second

	popErrorBackoff = time.Second
	settleTimeout   = 5 * time.Second
)

// Source is the queue the pool consumes. Implemented by queue.Consumer.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Requeue(ctx context.Context, job *queue.Job) error
	DeadLetter(ctx context.Context, job *queue.Job, reason string) error
	Reclaim(ctx context.Context, staleAfter time.Duration, maxAttempts int) (int, error)
	Depth(ctx context.Context) (int64, error)
}

// Processor handles one job. A non-nil error means the job may succeed on
// a later attempt.
type Processor interface {
	ProcessJob(ctx context.Context, job *queue.Job) error
}

// Config holds the pool settings. LeaseTimeout is how long a popped job
// may stay unsettled before it is handed to another worker; it defaults
// to JobTimeout plus the settle allowance.
type Config struct {
	Source          Source
	Processor       Processor
	Concurrency     int
	JobTimeout      time.Duration
	MaxAttempts     int
	PollTimeout     time.Duration
	DepthInterval   time.Duration
	LeaseTimeout    time.Duration
	ReclaimInterval time.Duration
}

// Pool runs Concurrency workers popping jobs from Source.
type Pool struct {
	cfg    Config
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool, filling in defaults for unset values.
func NewPool(cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.DepthInterval <= 0 {
		cfg.DepthInterval = DefaultDepthInterval
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = cfg.JobTimeout + 2*settleTimeout
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = DefaultReclaimEvery
	}
	return &Pool{cfg: cfg}
}

// Start launches the workers and the queue depth reporter.
func (p *Pool) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(loopCtx, id)
		}(i)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.reportDepth(loopCtx)
	}()
	go func() {
		defer p.wg.Done()
		p.reclaim(loopCtx)
	}()

	slog.Info("worker pool started",
		"concurrency", p.cfg.Concurrency,
		"job_timeout", p.cfg.JobTimeout,
		"max_attempts", p.cfg.MaxAttempts,
	)
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.cfg.Source.Pop(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to pop job", "worker", id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(popErrorBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		p.handle(ctx, job)
	}
}

// handle processes one job and retries or parks it on failure.
func (p *Pool) handle(ctx context.Context, job *queue.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	err := p.cfg.Processor.ProcessJob(jobCtx, job)
	cancel()

	// The job must be settled even when the pool is shutting down.
	settleCtx, settle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer settle()

	if err == nil {
		if aerr := p.cfg.Source.Ack(settleCtx, job); aerr != nil {
			// The lease expires and the job runs again; the pipeline
			// treats the rerun as a duplicate.
			slog.Warn("failed to ack job", "job_id", job.ID, "error", aerr)
		}
		metrics.JobsTotal.WithLabelValues("done").Inc()
		return
	}

	if job.Attempt >= p.cfg.MaxAttempts {
		if derr := p.cfg.Source.DeadLetter(settleCtx, job, err.Error()); derr != nil {
			slog.Error("failed to dead-letter job", "job_id", job.ID, "error", derr)
			metrics.JobsTotal.WithLabelValues("lost").Inc()
			return
		}
		slog.Warn("job dead-lettered", "job_id", job.ID, "attempt", job.Attempt, "error", err)
		metrics.JobsTotal.WithLabelValues("dead_lettered").Inc()
		return
	}

	if rerr := p.cfg.Source.Requeue(settleCtx, job); rerr != nil {
		slog.Error("failed to requeue job", "job_id", job.ID, "attempt", job.Attempt, "error", rerr)
		metrics.JobsTotal.WithLabelValues("lost").Inc()
		return
	}
	slog.Info("job requeued", "job_id", job.ID, "attempt", job.Attempt, "error", err)
	metrics.JobsTotal.WithLabelValues("retried").Inc()
}

// reclaim periodically returns jobs abandoned by dead workers to the queue.
func (p *Pool) reclaim(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.cfg.Source.Reclaim(ctx, p.cfg.LeaseTimeout, p.cfg.MaxAttempts)
			if err != nil && ctx.Err() == nil {
				slog.Warn("failed to reclaim abandoned jobs", "error", err)
			}
			if n > 0 {
				metrics.JobsTotal.WithLabelValues("reclaimed").Add(float64(n))
			}
		}
	}
}

func (p *Pool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.DepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.cfg.Source.Depth(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("failed to read queue depth", "error", err)
			}
		}
	}
}
