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


package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/replay"
	"github.com/elektrine/ingestion/internal/store/sqlite"
)

// run executes inboundctl with args and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const lunchEnvelope = `{"from":"friend@external.org","to":"me@local.tld","subject":"Lunch?","text_body":"Friday?","message_id":"<lunch-1@external.org>"}`

const dsnEML = "From: MAILER-DAEMON@mx.remote.example\r\n" +
	"To: me@local.tld\r\n" +
	"Subject: Undelivered Mail Returned to Sender\r\n" +
	"Message-ID: <dsn-1@mx.remote.example>\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; gone@remote.example\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n"

// TestClassifyCommand verifies the offline classification report.
func TestClassifyCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dsn.eml", dsnEML)

	out, err := run(t, "classify", path)
	require.NoError(t, err)

	var report classifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "Undelivered Mail Returned to Sender", report.Subject)
	assert.Equal(t, "dsn-1@mx.remote.example", report.MessageID)
	assert.Len(t, report.IdempotencyKey, 64)
	assert.True(t, report.Signal.IsDSN)
}

// TestFiltersValidateCommand verifies single and list validation.
func TestFiltersValidateCommand(t *testing.T) {
	dir := t.TempDir()
	valid := `{"name":"news","conditions":{"rules":[{"field":"from","operator":"ends_with","value":"@news.example"}]},"actions":{"set_category":"feed"}}`

	out, err := run(t, "filters", "validate", writeFile(t, dir, "one.json", valid))
	require.NoError(t, err)
	assert.Equal(t, "filter 0 (news): ok\n", out)

	invalid := `{"name":"bad","conditions":{"rules":[{"field":"subject","operator":"contains","value":"x"}]},"actions":{"set_category":"spam"}}`
	out, err = run(t, "filters", "validate", writeFile(t, dir, "list.json", "["+valid+","+invalid+"]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 filters invalid")
	assert.Contains(t, out, "filter 1 (bad): invalid filter: actions.set_category")
}

// TestReplayCommand_SQLite verifies provisioning and replay against a local
// database, including duplicate detection and bounce suppression.
func TestReplayCommand_SQLite(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ingest.db")
	messages := filepath.Join(dir, "messages")
	require.NoError(t, os.Mkdir(messages, 0o700))
	writeFile(t, messages, "01.json", lunchEnvelope)
	writeFile(t, messages, "02.json", lunchEnvelope)
	writeFile(t, messages, "03.eml", dsnEML)

	_, err := run(t, "mailbox", "add", "Me@Local.tld", "--user-id", "42", "--auto-suppress",
		"--sqlite", db, "--domain", "local.tld")
	require.NoError(t, err)

	out, err := run(t, "replay", messages, "--sqlite", db, "--domain", "local.tld")
	require.NoError(t, err)

	var res replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Zero(t, res.Errors)

	s, err := sqlite.Open(context.Background(), db)
	require.NoError(t, err)
	defer s.Close()
	suppressed, err := s.IsSuppressed(context.Background(), 42, "gone@remote.example")
	require.NoError(t, err)
	assert.True(t, suppressed)
}

// TestMailboxAdd_RejectsForeignDomain verifies mailboxes must be hosted.
func TestMailboxAdd_RejectsForeignDomain(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ingest.db")

	_, err := run(t, "mailbox", "add", "me@elsewhere.example", "--user-id", "1",
		"--sqlite", db, "--domain", "local.tld")
	assert.Error(t, err)
}
