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

// Package routing decides which local mailbox, if any, an inbound message
// belongs to.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// RejectReason explains why no mailbox accepts a message.
type RejectReason string

const (
	ReasonNoMailbox RejectReason = "no_mailbox"
	ReasonMismatch  RejectReason = "mismatch"
)

// Decision is the outcome of routing. It is one of Deliver,
// ForwardExternal or Reject.
type Decision interface {
	decision()
}

// Deliver stores the message in Mailbox. ViaAlias is the alias address
// that led there, if any.
type Deliver struct {
	Mailbox  *models.Mailbox
	ViaAlias string
}

// ForwardExternal hands the message to the outbound path for an alias
// whose target is on another domain.
type ForwardExternal struct {
	Target     string
	AliasEmail string
	UserID     int64
}

// Reject drops the message with a permanent failure.
type Reject struct {
	Reason RejectReason
}

func (Deliver) decision()         {}
func (ForwardExternal) decision() {}
func (Reject) decision()          {}

// MailboxStore looks up routing targets. Both methods return nil, nil when
// nothing matches.
type MailboxStore interface {
	LookupMailbox(ctx context.Context, addr string) (*models.Mailbox, error)
	LookupAlias(ctx context.Context, addr string) (*models.Alias, error)
}

// SentStore answers loop-detection queries against sent mail.
type SentStore interface {
	RecentlySent(ctx context.Context, from, to, subject string, since time.Time) (bool, error)
}

// Resolver maps recipient addresses to routing decisions.
type Resolver struct {
	mailboxes      MailboxStore
	sent           SentStore
	domains        address.Domains
	loopbackWindow time.Duration
	now            func() time.Time
}

// NewResolver creates a Resolver. sent may be nil, in which case loop
// detection always reports false.
func NewResolver(mailboxes MailboxStore, sent SentStore, domains address.Domains, loopbackWindow time.Duration) *Resolver {
	return &Resolver{
		mailboxes:      mailboxes,
		sent:           sent,
		domains:        domains,
		loopbackWindow: loopbackWindow,
		now:            time.Now,
	}
}

// Resolve routes a message addressed to `to` and delivered to envelope
// recipient rcptTo. The envelope recipient wins when both are present,
// since a Bcc recipient never appears in To. Storage errors are returned
// as is and should be treated as transient.
func (r *Resolver) Resolve(ctx context.Context, to, rcptTo string) (Decision, error) {
	target := rcptTo
	if address.Normalize(target) == "" {
		target = to
	}
	addr := address.Canonical(target)
	if addr == "" {
		return Reject{Reason: ReasonNoMailbox}, nil
	}

	alias, err := r.mailboxes.LookupAlias(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("lookup alias %s: %w", addr, err)
	}
	if alias != nil && alias.Enabled {
		dest := address.Canonical(alias.TargetEmail)
		if !r.domains.IsLocal(dest) {
			slog.Debug("alias forwards externally", "alias", addr, "target", dest)
			return ForwardExternal{Target: dest, AliasEmail: addr, UserID: alias.UserID}, nil
		}
		mb, err := r.mailboxes.LookupMailbox(ctx, dest)
		if err != nil {
			return nil, fmt.Errorf("lookup mailbox %s: %w", dest, err)
		}
		if mb == nil {
			return Reject{Reason: ReasonNoMailbox}, nil
		}
		return Deliver{Mailbox: mb, ViaAlias: addr}, nil
	}

	mb, err := r.mailboxes.LookupMailbox(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("lookup mailbox %s: %w", addr, err)
	}
	if mb == nil {
		return Reject{Reason: ReasonNoMailbox}, nil
	}
	return Deliver{Mailbox: mb}, nil
}

// ValidateRoute confirms that a Deliver decision really belongs to one of
// the message's recipients. Plus tags are ignored on both sides. A mailbox
// reached through an alias is valid when the alias matches a recipient.
func ValidateRoute(to, rcptTo string, d Deliver) Decision {
	if d.Mailbox == nil {
		return Reject{Reason: ReasonNoMailbox}
	}
	owned := address.Canonical(d.Mailbox.Address)
	for _, candidate := range []string{rcptTo, to} {
		c := address.Canonical(candidate)
		if c == "" {
			continue
		}
		if c == owned || (d.ViaAlias != "" && c == address.StripPlusTag(d.ViaAlias)) {
			return d
		}
	}
	return Reject{Reason: ReasonMismatch}
}

// IsOutbound reports whether a message is sent from a hosted domain to an
// external one, i.e. our own outgoing mail echoed back by the MTA.
func (r *Resolver) IsOutbound(from, to string) bool {
	if !r.domains.IsLocal(from) {
		return false
	}
	toDomain := address.Domain(address.Normalize(to))
	return toDomain != "" && !r.domains.Hosts(toDomain)
}

// IsLoopback reports whether an identical message (same sender, recipient
// and subject) was sent from this system within the loopback window.
func (r *Resolver) IsLoopback(ctx context.Context, from, to, subject string) (bool, error) {
	if r.sent == nil {
		return false, nil
	}
	since := r.now().Add(-r.loopbackWindow)
	found, err := r.sent.RecentlySent(ctx, address.Normalize(from), address.Normalize(to), subject, since)
	if err != nil {
		return false, fmt.Errorf("check recent sent mail: %w", err)
	}
	return found, nil
}
