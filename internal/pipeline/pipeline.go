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


// Package pipeline runs an inbound message through every ingestion stage:
// security gate, normalization, routing, duplicate detection,
// classification, user filters, persistence and suppression analysis.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/elektrine/ingestion/internal/alert"
	"github.com/elektrine/ingestion/internal/classify"
	"github.com/elektrine/ingestion/internal/dedup"
	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/metrics"
	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/normalize"
	"github.com/elektrine/ingestion/internal/queue"
	"github.com/elektrine/ingestion/internal/ratelimit"
	"github.com/elektrine/ingestion/internal/routing"
	"github.com/elektrine/ingestion/internal/security"
	"github.com/elektrine/ingestion/internal/suppression"
)

// MessageInserter persists accepted messages. created is false when the
// (mailbox, message id) pair already existed; the existing row is returned.
type MessageInserter interface {
	Insert(ctx context.Context, msg *models.StoredMessage) (*models.StoredMessage, bool, error)
}

// RateLimiter budgets outbound forwards per user.
type RateLimiter interface {
	Allow(ctx context.Context, userID int64) (ratelimit.Decision, error)
}

// ForwardPublisher hands external alias forwards to the outbound sender.
type ForwardPublisher interface {
	PublishForward(ctx context.Context, job *queue.ForwardJob) error
}

// JobPublisher enqueues messages for the worker pool.
type JobPublisher interface {
	Publish(ctx context.Context, job *queue.Job) error
}

// Claimer records idempotency keys for asynchronous submissions.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Alerter receives security rejections.
type Alerter interface {
	Send(ctx context.Context, a alert.Alert) error
}

// Deps wires a Pipeline. Limiter, Forwards, Jobs, Claims and Alerts are
// optional; without Jobs and Claims only synchronous ingestion works.
type Deps struct {
	Gate       *security.Gate
	Resolver   *routing.Resolver
	Guard      *dedup.Guard
	Filters    *filters.Engine
	Messages   MessageInserter
	Suppressor *suppression.Analyzer
	Limiter    RateLimiter
	Forwards   ForwardPublisher
	Jobs       JobPublisher
	Claims     Claimer
	Alerts     Alerter
}

// Pipeline processes inbound envelopes.
type Pipeline struct {
	Deps
	now func() time.Time
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	return &Pipeline{Deps: d, now: time.Now}
}

// Ingest processes env synchronously and reports the outcome. It never
// panics; unexpected failures become transient rejections.
func (p *Pipeline) Ingest(ctx context.Context, env *models.InboundEnvelope) Outcome {
	return p.run("sync", env, func() (Outcome, error) {
		if err := p.screen(ctx, env); err != nil {
			return Outcome{}, err
		}
		return p.deliver(ctx, env)
	})
}

// Enqueue screens env, checks that it is routable, claims its idempotency
// key and queues it for the worker pool. A key that is already claimed
// yields a duplicate outcome. The claim is released when the job cannot be
// queued so the sender's retry is not mistaken for a duplicate.
func (p *Pipeline) Enqueue(ctx context.Context, env *models.InboundEnvelope) Outcome {
	return p.run("async", env, func() (Outcome, error) {
		if p.Jobs == nil || p.Claims == nil {
			return Outcome{}, transient(ReasonQueueUnavailable, fmt.Errorf("async ingestion is not configured"))
		}
		if err := p.screen(ctx, env); err != nil {
			return Outcome{}, err
		}
		if out, skip := p.outbound(env); skip {
			return out, nil
		}
		if err := p.preflight(ctx, env); err != nil {
			return Outcome{}, err
		}

		key := dedup.Key(env)
		claimed, err := p.Claims.Claim(ctx, key)
		if err != nil {
			return Outcome{}, transient(ReasonQueueUnavailable, err)
		}
		if !claimed {
			slog.Info("duplicate submission", "idempotency_key", key, "message_id", env.MessageID)
			return Outcome{Status: StatusDuplicate, IdempotencyKey: key}, nil
		}

		job := queue.NewJob(env, key)
		if err := p.Jobs.Publish(ctx, job); err != nil {
			p.releaseClaim(ctx, key)
			return Outcome{}, transient(ReasonQueueUnavailable, err)
		}
		slog.Debug("message queued", "job_id", job.ID, "idempotency_key", key)
		return Outcome{Status: StatusAccepted, Queued: true, IdempotencyKey: key, MessageID: env.MessageID}, nil
	})
}

// ProcessJob runs the post-screening stages for a queued job. It returns
// an error only when the job should be retried.
func (p *Pipeline) ProcessJob(ctx context.Context, job *queue.Job) error {
	out := p.run("worker", job.Envelope, func() (Outcome, error) {
		return p.deliver(ctx, job.Envelope)
	})
	if out.Temporary() {
		return &Error{Kind: KindTransientFailure, Reason: out.Reason}
	}
	if out.Status == StatusRejected {
		slog.Warn("queued message rejected",
			"job_id", job.ID, "reason", out.Reason, "bounce_code", out.BounceCode)
	}
	return nil
}

// run executes one ingestion with panic recovery and metrics.
func (p *Pipeline) run(mode string, env *models.InboundEnvelope, fn func() (Outcome, error)) (out Outcome) {
	start := p.now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during ingestion", "panic", r, "stack", string(debug.Stack()))
			out = Rejected(transient(ReasonInternal, fmt.Errorf("panic: %v", r)))
		}
		metrics.IngestTotal.WithLabelValues(string(out.Status)).Inc()
		metrics.IngestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	if env == nil {
		return Rejected(&Error{Kind: KindValidationFailure, Reason: "empty_envelope"})
	}

	out, err := fn()
	if err != nil {
		pe := Classify(err)
		if pe.Kind == KindTransientFailure {
			slog.Error("ingestion failed", "mode", mode, "reason", pe.Reason, "error", err)
		} else {
			slog.Info("message rejected", "mode", mode, "kind", pe.Kind, "reason", pe.Reason)
		}
		return Rejected(pe)
	}
	return out
}

// screen runs the security gate and reports rejections to the alerter.
func (p *Pipeline) screen(ctx context.Context, env *models.InboundEnvelope) error {
	err := p.Gate.Check(env)
	if err == nil {
		return nil
	}
	rej, ok := security.IsRejection(err)
	if !ok {
		return err
	}

	metrics.SecurityRejections.WithLabelValues(rej.Kind).Inc()
	slog.Warn("security gate rejected message",
		"kind", rej.Kind, "from", env.From, "to", env.EnvelopeRecipient(), "detail", rej.Detail)
	if p.Alerts != nil {
		a := alert.Alert{
			Kind:      rej.Kind,
			Detail:    rej.Detail,
			From:      env.From,
			To:        env.EnvelopeRecipient(),
			MessageID: env.MessageID,
			At:        p.now().UTC(),
		}
		if aerr := p.Alerts.Send(ctx, a); aerr != nil {
			slog.Warn("failed to send security alert", "kind", rej.Kind, "error", aerr)
		}
	}
	return err
}

// outbound reports our own outgoing mail echoed back by the MTA.
func (p *Pipeline) outbound(env *models.InboundEnvelope) (Outcome, bool) {
	if p.Resolver.IsOutbound(env.From, env.EnvelopeRecipient()) {
		slog.Debug("skipping outbound message", "from", env.From, "to", env.EnvelopeRecipient())
		return Outcome{Status: StatusSkipped, Reason: "outbound"}, true
	}
	return Outcome{}, false
}

// preflight rejects unroutable recipients before a job is queued.
func (p *Pipeline) preflight(ctx context.Context, env *models.InboundEnvelope) error {
	decision, err := p.Resolver.Resolve(ctx, env.To, env.RcptTo)
	if err != nil {
		return transient(ReasonStoreUnavailable, err)
	}
	switch d := decision.(type) {
	case routing.Deliver:
		if rej, ok := routing.ValidateRoute(env.To, env.RcptTo, d).(routing.Reject); ok {
			return p.routingRejected(rej)
		}
		return nil
	case routing.ForwardExternal:
		return nil
	case routing.Reject:
		return p.routingRejected(d)
	default:
		panic(fmt.Sprintf("unhandled routing decision %T", decision))
	}
}

// deliver runs normalization through suppression analysis.
func (p *Pipeline) deliver(ctx context.Context, env *models.InboundEnvelope) (Outcome, error) {
	msg := normalize.Normalize(env)
	recipient := msg.RcptTo
	if recipient == "" {
		recipient = msg.To
	}

	if out, skip := p.outbound(env); skip {
		return out, nil
	}
	loop, err := p.Resolver.IsLoopback(ctx, msg.From, recipient, msg.Subject)
	if err != nil {
		return Outcome{}, transient(ReasonStoreUnavailable, err)
	}
	if loop {
		slog.Info("skipping looped message", "from", msg.From, "to", recipient)
		return Outcome{Status: StatusSkipped, Reason: "loopback"}, nil
	}

	decision, err := p.Resolver.Resolve(ctx, msg.To, msg.RcptTo)
	if err != nil {
		return Outcome{}, transient(ReasonStoreUnavailable, err)
	}

	var target routing.Deliver
	switch d := decision.(type) {
	case routing.Deliver:
		target = d
	case routing.ForwardExternal:
		return p.forward(ctx, env, d)
	case routing.Reject:
		return Outcome{}, p.routingRejected(d)
	default:
		panic(fmt.Sprintf("unhandled routing decision %T", decision))
	}

	switch d := routing.ValidateRoute(msg.To, msg.RcptTo, target).(type) {
	case routing.Deliver:
		target = d
	case routing.Reject:
		return Outcome{}, p.routingRejected(d)
	default:
		panic(fmt.Sprintf("unexpected validated route %T", d))
	}
	return p.store(ctx, target, msg)
}

func (p *Pipeline) routingRejected(r routing.Reject) error {
	metrics.RoutingRejections.WithLabelValues(string(r.Reason)).Inc()
	return routingFailure(string(r.Reason))
}

// forward hands an externally aliased message to the outbound queue,
// subject to the alias owner's send budget. The forward is claimed under
// its own idempotency key so a redelivered message is not sent twice; the
// claim is released whenever the job is not queued.
func (p *Pipeline) forward(ctx context.Context, env *models.InboundEnvelope, d routing.ForwardExternal) (Outcome, error) {
	if p.Forwards == nil {
		metrics.ForwardsTotal.WithLabelValues("unavailable").Inc()
		return Outcome{}, transient(ReasonQueueUnavailable, fmt.Errorf("external forwarding is not configured"))
	}

	key := dedup.ForwardKey(env, d.AliasEmail)
	if p.Claims != nil {
		claimed, err := p.Claims.Claim(ctx, key)
		if err != nil {
			metrics.ForwardsTotal.WithLabelValues("error").Inc()
			return Outcome{}, transient(ReasonQueueUnavailable, fmt.Errorf("claim forward: %w", err))
		}
		if !claimed {
			metrics.ForwardsTotal.WithLabelValues("duplicate").Inc()
			slog.Info("duplicate forward", "alias", d.AliasEmail, "idempotency_key", key, "message_id", env.MessageID)
			return Outcome{Status: StatusDuplicate, IdempotencyKey: key, ForwardedTo: d.Target}, nil
		}
	}

	job := &queue.ForwardJob{
		UserID:     d.UserID,
		AliasEmail: d.AliasEmail,
		Target:     d.Target,
		Envelope:   env,
	}
	if err := p.queueForward(ctx, d, job); err != nil {
		p.releaseClaim(ctx, key)
		return Outcome{}, err
	}
	metrics.ForwardsTotal.WithLabelValues("queued").Inc()
	slog.Info("message forwarded", "user_id", d.UserID, "alias", d.AliasEmail, "target", d.Target)
	return Outcome{Status: StatusAccepted, MessageID: env.MessageID, IdempotencyKey: key, ForwardedTo: d.Target}, nil
}

// queueForward checks the send budget and publishes job.
func (p *Pipeline) queueForward(ctx context.Context, d routing.ForwardExternal, job *queue.ForwardJob) error {
	if p.Limiter != nil {
		decision, err := p.Limiter.Allow(ctx, d.UserID)
		if err != nil {
			metrics.ForwardsTotal.WithLabelValues("error").Inc()
			return transient(ReasonStoreUnavailable, fmt.Errorf("rate limit: %w", err))
		}
		if !decision.Allowed {
			metrics.ForwardsTotal.WithLabelValues("rate_limited").Inc()
			slog.Info("forward rate limited",
				"user_id", d.UserID, "alias", d.AliasEmail, "retry_after", decision.RetryAfter)
			return transient(ReasonRateLimited, nil)
		}
	}

	if err := p.Forwards.PublishForward(ctx, job); err != nil {
		metrics.ForwardsTotal.WithLabelValues("error").Inc()
		return transient(ReasonQueueUnavailable, err)
	}
	return nil
}

func (p *Pipeline) releaseClaim(ctx context.Context, key string) {
	if p.Claims == nil {
		return
	}
	if err := p.Claims.Release(ctx, key); err != nil {
		slog.Warn("failed to release idempotency claim", "idempotency_key", key, "error", err)
	}
}

// store deduplicates, classifies, filters and persists a routed message.
func (p *Pipeline) store(ctx context.Context, target routing.Deliver, msg *models.NormalizedMessage) (Outcome, error) {
	mb := target.Mailbox

	existing, err := p.Guard.Check(ctx, mb.ID, msg)
	if err != nil {
		return Outcome{}, transient(ReasonStoreUnavailable, err)
	}
	if existing != nil {
		slog.Info("duplicate message", "mailbox_id", mb.ID, "message_id", existing.MessageID, "stored_id", existing.ID)
		return Outcome{Status: StatusDuplicate, MessageID: existing.MessageID, StoredID: existing.ID}, nil
	}

	cls := classify.Categorize(msg)
	category := string(cls.Category)

	var actions filters.Actions
	if p.Filters != nil {
		actions, err = p.Filters.Apply(ctx, mb.UserID, msg)
		if err != nil {
			return Outcome{}, transient(ReasonStoreUnavailable, fmt.Errorf("apply filters: %w", err))
		}
		if c := actions.String(filters.ActionSetCategory); c != "" {
			category = c
		}
	}

	rec := &models.StoredMessage{
		MailboxID:      mb.ID,
		MessageID:      msg.MessageID,
		From:           msg.From,
		To:             msg.To,
		RcptTo:         msg.RcptTo,
		Subject:        msg.Subject,
		TextBody:       msg.TextBody,
		HTMLBody:       msg.HTMLBody,
		Category:       category,
		IsReceipt:      cls.IsReceipt,
		IsNewsletter:   cls.IsNewsletter,
		IsNotification: cls.IsNotification,
		Status:         models.StatusReceived,
	}
	if len(actions) > 0 {
		rec.FilterActions = actions
	}

	stored, created, err := p.Messages.Insert(ctx, rec)
	if err != nil {
		return Outcome{}, transient(ReasonStoreUnavailable, fmt.Errorf("insert message: %w", err))
	}
	if !created {
		slog.Info("duplicate message on insert", "mailbox_id", mb.ID, "message_id", stored.MessageID)
		return Outcome{Status: StatusDuplicate, MessageID: stored.MessageID, StoredID: stored.ID}, nil
	}
	metrics.CategoryTotal.WithLabelValues(category).Inc()
	slog.Info("message stored",
		"mailbox_id", mb.ID, "stored_id", stored.ID, "message_id", stored.MessageID,
		"category", category, "via_alias", target.ViaAlias)

	if p.Suppressor != nil {
		p.Suppressor.Process(ctx, mb, msg)
	}

	return Outcome{
		Status:    StatusAccepted,
		MessageID: stored.MessageID,
		StoredID:  stored.ID,
		Category:  category,
	}, nil
}
