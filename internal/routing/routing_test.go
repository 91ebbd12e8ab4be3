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

package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// mockMailboxStore is an in-memory MailboxStore for tests.
type mockMailboxStore struct {
	mailboxes map[string]*models.Mailbox
	aliases   map[string]*models.Alias
	err       error
	lookups   []string
}

func (m *mockMailboxStore) LookupMailbox(_ context.Context, addr string) (*models.Mailbox, error) {
	m.lookups = append(m.lookups, addr)
	if m.err != nil {
		return nil, m.err
	}
	return m.mailboxes[addr], nil
}

func (m *mockMailboxStore) LookupAlias(_ context.Context, addr string) (*models.Alias, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.aliases[addr], nil
}

type sentRecord struct {
	from, to, subject string
	at                time.Time
}

type mockSentStore struct {
	sent []sentRecord
}

func (m *mockSentStore) RecentlySent(_ context.Context, from, to, subject string, since time.Time) (bool, error) {
	for _, s := range m.sent {
		if s.from == from && s.to == to && s.subject == subject && !s.at.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func newTestResolver() (*Resolver, *mockMailboxStore) {
	store := &mockMailboxStore{
		mailboxes: map[string]*models.Mailbox{
			"user@local.tld":  {ID: 1, UserID: 10, Address: "user@local.tld"},
			"owner@local.tld": {ID: 2, UserID: 20, Address: "owner@local.tld"},
		},
		aliases: map[string]*models.Alias{
			"alias@local.tld":    {AliasEmail: "alias@local.tld", TargetEmail: "owner@local.tld", UserID: 20, Enabled: true},
			"fwd@local.tld":      {AliasEmail: "fwd@local.tld", TargetEmail: "Me@Gmail.com", UserID: 20, Enabled: true},
			"disabled@local.tld": {AliasEmail: "disabled@local.tld", TargetEmail: "x@gmail.com", UserID: 20, Enabled: false},
		},
	}
	return NewResolver(store, nil, address.NewDomains([]string{"local.tld"}), 5*time.Minute), store
}

// TestResolve verifies the routing decision for each recipient shape.
func TestResolve(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	tests := []struct {
		name   string
		to     string
		rcptTo string
		want   Decision
	}{
		{
			name: "direct mailbox",
			to:   "user@local.tld",
			want: Deliver{Mailbox: &models.Mailbox{ID: 1, UserID: 10, Address: "user@local.tld"}},
		},
		{
			name: "plus tag stripped",
			to:   "User+news@Local.TLD",
			want: Deliver{Mailbox: &models.Mailbox{ID: 1, UserID: 10, Address: "user@local.tld"}},
		},
		{
			name:   "rcpt_to preferred over to",
			to:     "someone@else.org",
			rcptTo: "owner@local.tld",
			want:   Deliver{Mailbox: &models.Mailbox{ID: 2, UserID: 20, Address: "owner@local.tld"}},
		},
		{
			name: "local alias followed",
			to:   "Alias <alias@local.tld>",
			want: Deliver{Mailbox: &models.Mailbox{ID: 2, UserID: 20, Address: "owner@local.tld"}, ViaAlias: "alias@local.tld"},
		},
		{
			name: "external alias forwards",
			to:   "fwd@local.tld",
			want: ForwardExternal{Target: "me@gmail.com", AliasEmail: "fwd@local.tld", UserID: 20},
		},
		{
			name: "disabled alias ignored",
			to:   "disabled@local.tld",
			want: Reject{Reason: ReasonNoMailbox},
		},
		{
			name: "unknown recipient",
			to:   "ghost@local.tld",
			want: Reject{Reason: ReasonNoMailbox},
		},
		{
			name: "empty recipient",
			want: Reject{Reason: ReasonNoMailbox},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.to, tt.rcptTo)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestResolve_StoreError verifies storage errors propagate.
func TestResolve_StoreError(t *testing.T) {
	r, store := newTestResolver()
	store.err = errors.New("connection refused")

	_, err := r.Resolve(context.Background(), "user@local.tld", "")
	assert.ErrorContains(t, err, "connection refused")
}

// TestValidateRoute verifies mailbox/recipient consistency.
func TestValidateRoute(t *testing.T) {
	mb := &models.Mailbox{ID: 1, Address: "user@local.tld"}

	d := Deliver{Mailbox: mb}
	assert.Equal(t, d, ValidateRoute("user+tag@local.tld", "", d))
	assert.Equal(t, d, ValidateRoute("list@x.org", "USER@local.tld", d))
	assert.Equal(t, Reject{Reason: ReasonMismatch}, ValidateRoute("other@local.tld", "", d))

	viaAlias := Deliver{Mailbox: mb, ViaAlias: "alias@local.tld"}
	assert.Equal(t, viaAlias, ValidateRoute("alias+x@local.tld", "", viaAlias))

	assert.Equal(t, Reject{Reason: ReasonNoMailbox}, ValidateRoute("user@local.tld", "", Deliver{}))
}

// TestIsOutbound verifies hosted-to-external detection.
func TestIsOutbound(t *testing.T) {
	r, _ := newTestResolver()

	assert.True(t, r.IsOutbound("user@local.tld", "friend@x.org"))
	assert.False(t, r.IsOutbound("user@local.tld", "other@local.tld"))
	assert.False(t, r.IsOutbound("friend@x.org", "user@local.tld"))
	assert.False(t, r.IsOutbound("user@local.tld", ""))
}

// TestIsLoopback verifies the loopback window.
func TestIsLoopback(t *testing.T) {
	now := time.Now()
	sent := &mockSentStore{sent: []sentRecord{
		{from: "user@local.tld", to: "friend@x.org", subject: "Hi", at: now.Add(-2 * time.Minute)},
		{from: "user@local.tld", to: "friend@x.org", subject: "Old", at: now.Add(-10 * time.Minute)},
	}}
	r := NewResolver(&mockMailboxStore{}, sent, address.NewDomains([]string{"local.tld"}), 5*time.Minute)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	got, err := r.IsLoopback(ctx, "User <user@local.tld>", "friend@x.org", "Hi")
	require.NoError(t, err)
	assert.True(t, got)

	got, err = r.IsLoopback(ctx, "user@local.tld", "friend@x.org", "Old")
	require.NoError(t, err)
	assert.False(t, got)

	noStore, _ := newTestResolver()
	got, err = noStore.IsLoopback(ctx, "user@local.tld", "friend@x.org", "Hi")
	require.NoError(t, err)
	assert.False(t, got)
}
