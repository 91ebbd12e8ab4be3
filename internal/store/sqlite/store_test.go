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


package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/dedup"
	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/routing"
	"github.com/elektrine/ingestion/internal/suppression"
)

var (
	_ routing.MailboxStore = (*Store)(nil)
	_ routing.SentStore    = (*Store)(nil)
	_ dedup.MessageStore   = (*Store)(nil)
	_ filters.Store        = (*Store)(nil)
	_ suppression.Store    = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMailboxesAndAliases verifies lookups are case-insensitive and
// missing rows return nil without error.
func TestMailboxesAndAliases(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	mb, err := s.CreateMailbox(ctx, &models.Mailbox{UserID: 5, Address: "Alice@Local.tld", AutoSuppress: true})
	require.NoError(t, err)
	assert.NotZero(t, mb.ID)

	got, err := s.LookupMailbox(ctx, "ALICE@local.TLD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, mb.ID, got.ID)
	assert.True(t, got.AutoSuppress)

	missing, err := s.LookupMailbox(ctx, "nobody@local.tld")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpsertAlias(ctx, &models.Alias{AliasEmail: "team@local.tld", TargetEmail: "alice@local.tld", UserID: 5, Enabled: true}))
	require.NoError(t, s.UpsertAlias(ctx, &models.Alias{AliasEmail: "team@local.tld", TargetEmail: "ext@remote.example", UserID: 5, Enabled: false}))
	alias, err := s.LookupAlias(ctx, "Team@local.tld")
	require.NoError(t, err)
	require.NotNil(t, alias)
	assert.Equal(t, "ext@remote.example", alias.TargetEmail)
	assert.False(t, alias.Enabled)
}

// TestInsertIsIdempotent verifies a repeated (mailbox, Message-ID) returns
// the first row and empty IDs never conflict.
func TestInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	mb, err := s.CreateMailbox(ctx, &models.Mailbox{UserID: 1, Address: "me@local.tld"})
	require.NoError(t, err)

	msg := &models.StoredMessage{
		MailboxID: mb.ID, MessageID: "abc@remote.example", From: "a@remote.example",
		Subject: "Hi", Category: "inbox", FilterActions: map[string]any{"label": "x"},
	}
	first, created, err := s.Insert(ctx, msg)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.StatusReceived, first.Status)
	assert.Equal(t, "x", first.FilterActions["label"])

	again, created, err := s.Insert(ctx, msg)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	noID := &models.StoredMessage{MailboxID: mb.ID, From: "a@remote.example", Subject: "Hi"}
	_, created, err = s.Insert(ctx, noID)
	require.NoError(t, err)
	assert.True(t, created)
	_, created, err = s.Insert(ctx, noID)
	require.NoError(t, err)
	assert.True(t, created)
}

// TestGuardAgainstStore verifies the idempotency guard finds exact and near
// duplicates through the SQLite queries.
func TestGuardAgainstStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	mb, err := s.CreateMailbox(ctx, &models.Mailbox{UserID: 1, Address: "me@local.tld"})
	require.NoError(t, err)

	_, _, err = s.Insert(ctx, &models.StoredMessage{MailboxID: mb.ID, MessageID: "real@remote.example", From: "a@remote.example", Subject: "Exact"})
	require.NoError(t, err)
	_, _, err = s.Insert(ctx, &models.StoredMessage{MailboxID: mb.ID, From: "b@remote.example", Subject: "Near", RcptTo: "me@local.tld"})
	require.NoError(t, err)

	g := dedup.NewGuard(s, time.Minute)

	dup, err := g.Check(ctx, mb.ID, &models.NormalizedMessage{MessageID: "real@remote.example"})
	require.NoError(t, err)
	assert.NotNil(t, dup)

	dup, err = g.Check(ctx, mb.ID, &models.NormalizedMessage{From: "B@remote.example", Subject: "Near", RcptTo: "me@local.tld"})
	require.NoError(t, err)
	assert.NotNil(t, dup)

	dup, err = g.Check(ctx, mb.ID, &models.NormalizedMessage{From: "b@remote.example", Subject: "Near", RcptTo: "other@local.tld"})
	require.NoError(t, err)
	assert.Nil(t, dup)
}

// TestRecentlySent verifies loop detection only sees sent mail inside the
// window.
func TestRecentlySent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	mb, err := s.CreateMailbox(ctx, &models.Mailbox{UserID: 1, Address: "me@local.tld"})
	require.NoError(t, err)

	_, _, err = s.Insert(ctx, &models.StoredMessage{
		MailboxID: mb.ID, From: "me@local.tld", To: "you@remote.example", Subject: "Ping", Status: models.StatusSent,
	})
	require.NoError(t, err)

	found, err := s.RecentlySent(ctx, "ME@local.tld", "you@remote.example", "Ping", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.RecentlySent(ctx, "me@local.tld", "you@remote.example", "Ping", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.RecentlySent(ctx, "me@local.tld", "you@remote.example", "Other", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, found)
}

// TestSuppressions verifies upserts are keyed case-insensitively, merge
// metadata, and that expired entries are inactive but kept.
func TestSuppressions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.UpsertSuppression(ctx, &models.SuppressionEntry{
		UserID: 3, Email: "Gone@Remote.example", Reason: models.ReasonHardBounce,
		Source: models.SourceInboundDSN, Metadata: map[string]any{"message_id": "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gone@remote.example", first.Email)

	second, err := s.UpsertSuppression(ctx, &models.SuppressionEntry{
		UserID: 3, Email: "gone@remote.example", Reason: models.ReasonComplaint,
		Source: models.SourceInboundFeedback, Metadata: map[string]any{"signal": "feedback_loop"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.ReasonComplaint, second.Reason)
	assert.Equal(t, "a", second.Metadata["message_id"])
	assert.Equal(t, "feedback_loop", second.Metadata["signal"])

	active, err := s.IsSuppressed(ctx, 3, "GONE@remote.example")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.IsSuppressed(ctx, 4, "gone@remote.example")
	require.NoError(t, err)
	assert.False(t, active)

	past := time.Now().Add(-time.Hour)
	_, err = s.UpsertSuppression(ctx, &models.SuppressionEntry{
		UserID: 3, Email: "old@remote.example", Reason: models.ReasonManual,
		Source: models.SourceManual, ExpiresAt: &past,
	})
	require.NoError(t, err)
	active, err = s.IsSuppressed(ctx, 3, "old@remote.example")
	require.NoError(t, err)
	assert.False(t, active)

	list, err := s.ListSuppressions(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// TestAnalyzerAgainstStore verifies a hard bounce processed by the analyzer
// lands in SQLite as an active suppression.
func TestAnalyzerAgainstStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := suppression.NewAnalyzer(s, address.NewDomains([]string{"local.tld"}), nil)
	mb := &models.Mailbox{ID: 1, UserID: 9, Address: "me@local.tld", AutoSuppress: true}

	a.Process(ctx, mb, &models.NormalizedMessage{
		From:     "mailer-daemon@mx.remote.example",
		Subject:  "Undelivered Mail Returned to Sender",
		TextBody: "Final-Recipient: rfc822; lost@remote.example\nStatus: 5.1.1\n",
	})

	active, err := s.IsSuppressed(ctx, 9, "lost@remote.example")
	require.NoError(t, err)
	assert.True(t, active)
}

// TestFilterCRUD verifies filter persistence, ordering and ownership.
func TestFilterCRUD(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	conds, err := filters.ParseConditions([]byte(`{"match_type":"any","rules":[{"field":"subject","operator":"contains","value":"invoice"}]}`))
	require.NoError(t, err)

	low, err := s.CreateFilter(ctx, &filters.Filter{UserID: 1, Name: "low", Conditions: conds, Actions: filters.Actions{"label": "money"}, Priority: 10, Enabled: true})
	require.NoError(t, err)
	high, err := s.CreateFilter(ctx, &filters.Filter{UserID: 1, Name: "high", Conditions: conds, Actions: filters.Actions{"star": true}, Priority: 1, Enabled: true})
	require.NoError(t, err)
	_, err = s.CreateFilter(ctx, &filters.Filter{UserID: 1, Name: "off", Conditions: conds, Actions: filters.Actions{"archive": true}})
	require.NoError(t, err)

	enabled, err := s.ListEnabledFilters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, high.ID, enabled[0].ID)
	assert.Equal(t, filters.MatchAny, enabled[0].Conditions.MatchType)

	all, err := s.ListFilters(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	low.Name = "renamed"
	updated, err := s.UpdateFilter(ctx, low)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)

	low.UserID = 2
	_, err = s.UpdateFilter(ctx, low)
	assert.ErrorIs(t, err, filters.ErrNotFound)

	assert.ErrorIs(t, s.DeleteFilter(ctx, 2, high.ID), filters.ErrNotFound)
	require.NoError(t, s.DeleteFilter(ctx, 1, high.ID))

	actions, err := filters.NewEngine(s).Apply(ctx, 1, &models.NormalizedMessage{Subject: "Your invoice"})
	require.NoError(t, err)
	assert.Equal(t, "money", actions.String("label"))
}
