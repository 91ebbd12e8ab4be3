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

package suppression

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/metrics"
	"github.com/elektrine/ingestion/internal/models"
)

// Store persists suppression entries. UpsertSuppression is atomic and
// keyed on (user, lower-cased email). IsSuppressed matches the address
// case-insensitively and ignores expired entries.
type Store interface {
	UpsertSuppression(ctx context.Context, entry *models.SuppressionEntry) (*models.SuppressionEntry, error)
	IsSuppressed(ctx context.Context, userID int64, email string) (bool, error)
	ListSuppressions(ctx context.Context, userID int64) ([]*models.SuppressionEntry, error)
}

// Mirror copies suppressions to an external sending provider.
type Mirror interface {
	Suppress(ctx context.Context, email string, reason models.SuppressionReason) error
}

// Analyzer turns inbound delivery signals into suppressions.
type Analyzer struct {
	store  Store
	hosted address.Domains
	mirror Mirror
	now    func() time.Time
}

// NewAnalyzer creates an Analyzer. mirror may be nil.
func NewAnalyzer(store Store, hosted address.Domains, mirror Mirror) *Analyzer {
	return &Analyzer{
		store:  store,
		hosted: hosted,
		mirror: mirror,
		now:    time.Now,
	}
}

// Process classifies msg and, for complaints and hard bounces delivered to
// a mailbox with auto-suppression enabled, suppresses the affected
// recipient for the mailbox owner. Failures are logged and counted; they
// never affect ingestion of the message itself.
func (a *Analyzer) Process(ctx context.Context, mailbox *models.Mailbox, msg *models.NormalizedMessage) SignalResult {
	sig := ClassifySignal(msg.Headers, msg.From, msg.Subject)
	if mailbox == nil || !mailbox.AutoSuppress {
		return sig
	}

	var reason models.SuppressionReason
	var source models.SuppressionSource
	switch {
	case sig.IsFeedbackLoop:
		reason, source = models.ReasonComplaint, models.SourceInboundFeedback
	case sig.IsDSN && IsHardBounce(reportText(msg)):
		reason, source = models.ReasonHardBounce, models.SourceInboundDSN
	default:
		return sig
	}

	recipient := ExtractRecipient(msg.Headers, msg.Body(), mailbox.Address, a.hosted)
	if recipient == "" {
		slog.Warn("delivery signal without extractable recipient",
			"mailbox_id", mailbox.ID, "signal", sig.Signal, "message_id", msg.MessageID)
		metrics.SuppressionFailures.Inc()
		return sig
	}

	now := a.now()
	entry := &models.SuppressionEntry{
		UserID:      mailbox.UserID,
		Email:       strings.ToLower(recipient),
		Reason:      reason,
		Source:      source,
		LastEventAt: now,
		Metadata: map[string]any{
			"mailbox_id": mailbox.ID,
			"message_id": msg.MessageID,
			"signal":     string(sig.Signal),
			"subject":    msg.Subject,
			"reporter":   address.Normalize(msg.From),
		},
	}

	stored, err := a.store.UpsertSuppression(ctx, entry)
	if err != nil {
		slog.Error("failed to record suppression",
			"user_id", mailbox.UserID, "email", entry.Email, "reason", reason, "error", err)
		metrics.SuppressionFailures.Inc()
		return sig
	}

	metrics.SuppressionsTotal.WithLabelValues(string(reason)).Inc()
	slog.Info("recipient suppressed",
		"user_id", stored.UserID, "email", stored.Email, "reason", stored.Reason, "source", stored.Source)

	if a.mirror != nil {
		if err := a.mirror.Suppress(ctx, stored.Email, reason); err != nil {
			slog.Warn("failed to mirror suppression", "email", stored.Email, "error", err)
			metrics.SuppressionFailures.Inc()
		}
	}
	return sig
}

// reportFields are the header fields of a flattened delivery report that
// carry status information.
var reportFields = []string{"Status", "Diagnostic-Code", "X-Postfix-Diagnostic", "Action"}

// reportText combines the body, subject and status-bearing headers: the
// text a delivery report's status codes may appear in. The body comes
// first so its status codes decide.
func reportText(msg *models.NormalizedMessage) string {
	var sb strings.Builder
	sb.WriteString(msg.Body())
	sb.WriteByte('\n')
	sb.WriteString(msg.Subject)
	for _, name := range reportFields {
		if v := msg.Headers.Get(name); v != "" {
			sb.WriteByte('\n')
			sb.WriteString(v)
		}
	}
	return sb.String()
}
