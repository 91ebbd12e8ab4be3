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


package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/metrics"
	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/queue"
)

// fakeSource is an in-memory Source.
type fakeSource struct {
	mu       sync.Mutex
	pending  []*queue.Job
	requeued []*queue.Job
	acked    []*queue.Job
	dead     map[string]string
	reclaims []time.Duration
}

func newFakeSource(jobs ...*queue.Job) *fakeSource {
	return &fakeSource{pending: jobs, dead: map[string]string{}}
}

func (s *fakeSource) Pop(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		job := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (s *fakeSource) Ack(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, job)
	return nil
}

func (s *fakeSource) Reclaim(_ context.Context, staleAfter time.Duration, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reclaims = append(s.reclaims, staleAfter)
	return 1, nil
}

func (s *fakeSource) Requeue(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *job
	next.Attempt++
	s.requeued = append(s.requeued, &next)
	return nil
}

func (s *fakeSource) DeadLetter(_ context.Context, job *queue.Job, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[job.ID.String()] = reason
	return nil
}

func (s *fakeSource) Depth(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

type processorFunc func(ctx context.Context, job *queue.Job) error

func (f processorFunc) ProcessJob(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

func testJob(attempt int) *queue.Job {
	job := queue.NewJob(&models.InboundEnvelope{From: "a@x.org", To: "me@local.tld"}, "key")
	job.Attempt = attempt
	return job
}

// TestHandle verifies the done, retry and dead-letter paths.
func TestHandle(t *testing.T) {
	ctx := context.Background()
	failing := processorFunc(func(context.Context, *queue.Job) error { return errors.New("db down") })

	t.Run("done", func(t *testing.T) {
		src := newFakeSource()
		p := NewPool(Config{Source: src, Processor: processorFunc(func(context.Context, *queue.Job) error { return nil })})
		before := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("done"))

		job := testJob(1)
		p.handle(ctx, job)

		assert.Equal(t, []*queue.Job{job}, src.acked)
		assert.Empty(t, src.requeued)
		assert.Empty(t, src.dead)
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("done")))
	})

	t.Run("retry", func(t *testing.T) {
		src := newFakeSource()
		p := NewPool(Config{Source: src, Processor: failing, MaxAttempts: 3})

		p.handle(ctx, testJob(2))

		require.Len(t, src.requeued, 1)
		assert.Equal(t, 3, src.requeued[0].Attempt)
		assert.Empty(t, src.dead)
		assert.Empty(t, src.acked)
	})

	t.Run("dead letter", func(t *testing.T) {
		src := newFakeSource()
		p := NewPool(Config{Source: src, Processor: failing, MaxAttempts: 3})
		job := testJob(3)

		p.handle(ctx, job)

		assert.Empty(t, src.requeued)
		assert.Equal(t, "db down", src.dead[job.ID.String()])
	})
}

// TestHandle_Timeout verifies a job exceeding the timeout is retried.
func TestHandle_Timeout(t *testing.T) {
	src := newFakeSource()
	slow := processorFunc(func(ctx context.Context, _ *queue.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := NewPool(Config{Source: src, Processor: slow, JobTimeout: 20 * time.Millisecond})

	p.handle(context.Background(), testJob(1))

	require.Len(t, src.requeued, 1)
	assert.Equal(t, 2, src.requeued[0].Attempt)
}

// TestPool_StartStop verifies queued jobs are drained and Stop returns.
func TestPool_StartStop(t *testing.T) {
	src := newFakeSource(testJob(1), testJob(1), testJob(1))
	var mu sync.Mutex
	processed := 0
	proc := processorFunc(func(context.Context, *queue.Job) error {
		mu.Lock()
		processed++
		mu.Unlock()
		return nil
	})

	p := NewPool(Config{Source: src, Processor: proc, Concurrency: 2, PollTimeout: 10 * time.Millisecond})
	p.Start(context.Background())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed == 3
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

// TestPool_Reclaims verifies the pool periodically reclaims abandoned
// jobs using its lease timeout.
func TestPool_Reclaims(t *testing.T) {
	src := newFakeSource()
	p := NewPool(Config{
		Source:          src,
		Processor:       processorFunc(func(context.Context, *queue.Job) error { return nil }),
		Concurrency:     1,
		PollTimeout:     10 * time.Millisecond,
		LeaseTimeout:    time.Minute,
		ReclaimInterval: 5 * time.Millisecond,
	})
	before := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("reclaimed"))

	p.Start(context.Background())
	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.reclaims) > 0
	}, time.Second, 5*time.Millisecond)
	p.Stop()

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, time.Minute, src.reclaims[0])
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("reclaimed")), before+1)
}

// TestNewPool_Defaults verifies zero values are replaced.
func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(Config{})
	assert.Equal(t, DefaultConcurrency, p.cfg.Concurrency)
	assert.Equal(t, DefaultJobTimeout, p.cfg.JobTimeout)
	assert.Equal(t, DefaultMaxAttempts, p.cfg.MaxAttempts)
	assert.Equal(t, DefaultJobTimeout+2*settleTimeout, p.cfg.LeaseTimeout)
	assert.Equal(t, DefaultReclaimEvery, p.cfg.ReclaimInterval)
}
