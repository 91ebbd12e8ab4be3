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


package replay

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/pipeline"
)

const multipartEML = "From: Shop <orders@shop.example>\r\n" +
	"To: me@local.tld\r\n" +
	"Subject: Your receipt\r\n" +
	"Message-ID: <r-1@shop.example>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Thanks for your order.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=receipt.pdf\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0=\r\n" +
	"--XYZ--\r\n"

// TestParseEML verifies bodies, attachments and headers are extracted.
func TestParseEML(t *testing.T) {
	env, err := ParseEML(strings.NewReader(multipartEML))
	require.NoError(t, err)

	assert.Equal(t, "Shop <orders@shop.example>", env.From)
	assert.Equal(t, "me@local.tld", env.To)
	assert.Equal(t, "Your receipt", env.Subject)
	assert.Equal(t, "<r-1@shop.example>", env.MessageID)
	assert.Contains(t, env.TextBody, "Thanks for your order.")
	require.Len(t, env.Attachments, 1)
	assert.Equal(t, "receipt.pdf", env.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", env.Attachments[0].ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF-")), env.Attachments[0].Content)
	assert.Equal(t, multipartEML, env.Raw)
}

// TestParseEML_NoRecipient verifies messages without To are refused.
func TestParseEML_NoRecipient(t *testing.T) {
	_, err := ParseEML(strings.NewReader("From: a@x.org\r\nSubject: hi\r\n\r\nbody\r\n"))
	assert.ErrorIs(t, err, models.ErrNoRecipient)
}

// scriptedIngestor answers by subject.
type scriptedIngestor struct {
	outcomes map[string]pipeline.Outcome
	seen     []*models.InboundEnvelope
}

func (s *scriptedIngestor) Ingest(_ context.Context, env *models.InboundEnvelope) pipeline.Outcome {
	s.seen = append(s.seen, env)
	return s.outcomes[env.Subject]
}

// TestRun verifies every file is replayed in order and tallied.
func TestRun(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("01.json", `{"from":"a@x.org","to":"me@local.tld","subject":"one"}`)
	write("02.json", `{"from":"a@x.org","to":"me@local.tld","subject":"two"}`)
	write("03.eml", multipartEML)
	write("04.json", `{broken`)
	write("notes.txt", "ignored")

	ing := &scriptedIngestor{outcomes: map[string]pipeline.Outcome{
		"one":          {Status: pipeline.StatusAccepted},
		"two":          {Status: pipeline.StatusDuplicate},
		"Your receipt": {Status: pipeline.StatusRejected, Reason: "no_mailbox"},
	}}

	res, err := NewRunner(ing, 0).Run(context.Background(), Request{Dir: dir})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Reasons["no_mailbox"])
	require.Len(t, ing.seen, 3)
	assert.Equal(t, "one", ing.seen[0].Subject)
}

// TestRun_LimitAndRecipient verifies the limit and recipient override.
func TestRun_LimitAndRecipient(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name),
			[]byte(`{"from":"a@x.org","to":"old@local.tld","subject":"s"}`), 0o600))
	}
	ing := &scriptedIngestor{outcomes: map[string]pipeline.Outcome{"s": {Status: pipeline.StatusAccepted}}}

	res, err := NewRunner(ing, 0).Run(context.Background(), Request{Dir: dir, Limit: 2, RcptTo: "me@local.tld"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Files)
	require.Len(t, ing.seen, 2)
	assert.Equal(t, "me@local.tld", ing.seen[1].RcptTo)
}

// TestRun_MissingDir verifies a missing directory is an error.
func TestRun_MissingDir(t *testing.T) {
	_, err := NewRunner(&scriptedIngestor{}, 0).Run(context.Background(), Request{Dir: filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}
