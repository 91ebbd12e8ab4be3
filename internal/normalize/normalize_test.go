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

package normalize

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrine/ingestion/internal/models"
)

// TestSanitizeUTF8 verifies invalid bytes, NUL bytes and mojibake handling.
func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"nil", nil, ""},
		{"ascii", []byte("hello"), "hello"},
		{"nul stripped", []byte("he\x00llo"), "hello"},
		{"invalid byte", []byte("caf\xe9!"), "caf�!"},
		{"valid multibyte kept", []byte("naïve 日本"), "naïve 日本"},
		{"truncated sequence", []byte("x\xe2\x82"), "x��"},
		{"smart quote mojibake", []byte("Itâ€™s"), "It’s"},
		{"em dash mojibake", []byte("a â€” b"), "a — b"},
		{"ellipsis mojibake", []byte("waitâ€¦"), "wait…"},
		{"lone marker untouched", []byte("Âge"), "Âge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeUTF8(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

// TestSanitizeUTF8_Idempotent verifies that sanitizing twice is a no-op.
func TestSanitizeUTF8_Idempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte("\xff\xfe\x00abc"),
		[]byte("Itâ€™s â€œfineâ€"),
		[]byte("\xc3\x28\xa0\xa1"),
		[]byte("plain text"),
		[]byte("ÂÂ\u00a0"),
		[]byte("ÂÂÂ\u00a0x"),
		[]byte("Itâ€â€œs"),
		[]byte("a\x00â€\x00™"),
	}
	for _, in := range inputs {
		once := SanitizeUTF8(in)
		assert.Equal(t, once, SanitizeUTF8([]byte(once)), "input %q", in)
		assert.Equal(t, once, SanitizeString(once), "input %q", in)
	}
}

// TestSanitizeUTF8_NestedMojibake verifies repairs that expose another
// garbled sequence are repaired too.
func TestSanitizeUTF8_NestedMojibake(t *testing.T) {
	assert.Equal(t, "\u00a0", SanitizeUTF8([]byte("ÂÂ\u00a0")))
	assert.Equal(t, "\u00a0x", SanitizeUTF8([]byte("ÂÂÂ\u00a0x")))
	assert.Equal(t, "It–s", SanitizeUTF8([]byte("Itâ€â€œs")))
}

// FuzzSanitizeUTF8 checks that any input yields valid, JSON-encodable
// UTF-8 that sanitizing again leaves unchanged.
func FuzzSanitizeUTF8(f *testing.F) {
	seeds := []string{
		"",
		"plain text",
		"he\x00llo",
		"caf\xe9!",
		"x\xe2\x82",
		"Itâ€™s â€œfineâ€",
		"ÂÂ\u00a0",
		"ÂÂÂ\u00a0x",
		"Itâ€â€œs",
		"naïve 日本 🙂",
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, in []byte) {
		once := SanitizeUTF8(in)
		if !utf8.ValidString(once) {
			t.Fatalf("invalid UTF-8 for %q: %q", in, once)
		}
		if strings.ContainsRune(once, 0) {
			t.Fatalf("NUL kept for %q", in)
		}
		if _, err := json.Marshal(once); err != nil {
			t.Fatalf("not JSON-encodable for %q: %v", in, err)
		}
		if twice := SanitizeUTF8([]byte(once)); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	})
}

// TestDecodeMIMEHeader verifies encoded-word decoding and quote repair.
func TestDecodeMIMEHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello", "Hello"},
		{"base64 utf8", "=?UTF-8?B?SGVsbG8gV29ybGQ=?=", "Hello World"},
		{"q latin1", "=?ISO-8859-1?Q?caf=E9?=", "café"},
		{"doubled quotes", `""Jane Doe"" <jane@x.org>`, `"Jane Doe" <jane@x.org>`},
		{"stray quote", `"Jane`, "Jane"},
		{"broken word kept", "=?UTF-8?B?!!!?=", "=?UTF-8?B?!!!?="},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeMIMEHeader(tt.in))
		})
	}
}

// TestPickCleanerDecoding verifies quality scoring and tie-breaking.
func TestPickCleanerDecoding(t *testing.T) {
	clean := "Café déjà vu"
	garbled := "CafÃ© dÃ©jÃ  vu"

	assert.Equal(t, clean, PickCleanerDecoding(garbled, clean))
	assert.Equal(t, clean, PickCleanerDecoding(clean, garbled))
	assert.Equal(t, "first", PickCleanerDecoding("first", "other"))
	assert.Equal(t, "alt", PickCleanerDecoding("", "alt"))

	assert.Zero(t, QualityScore(clean))
	assert.Greater(t, QualityScore("bad�"), 0)
	assert.Equal(t, weightC1Control, QualityScore("\u0085"))
}

// TestSanitizeHTML verifies script and iframe removal with links preserved.
func TestSanitizeHTML(t *testing.T) {
	link := `<a href="https://example.com/path?q=1&amp;x=Y">Link</a>`
	in := `<p>Hi</p><SCRIPT type="text/javascript">alert("x")</SCRIPT>` + link +
		`<iframe src="https://evil.example"><b>inner</b></iframe><img src="cid:1"/>`

	got := SanitizeHTML(in)

	assert.NotContains(t, strings.ToLower(got), "<script")
	assert.NotContains(t, strings.ToLower(got), "<iframe")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "inner")
	assert.Contains(t, got, link)
	assert.Contains(t, got, "<p>Hi</p>")
	assert.Contains(t, got, `<img src="cid:1"/>`)
}

// TestSanitizeHTML_RawTextElements verifies script openers hidden in raw
// text elements are neutralized.
func TestSanitizeHTML_RawTextElements(t *testing.T) {
	got := SanitizeHTML(`<noscript><script>alert(1)</script></noscript><!-- <iframe> -->ok`)
	assert.NotContains(t, strings.ToLower(got), "<script")
	assert.NotContains(t, got, "<!--")
	assert.True(t, strings.HasSuffix(got, "ok"))
}

// TestSanitizeHTML_Unclosed verifies an unterminated script swallows the rest.
func TestSanitizeHTML_Unclosed(t *testing.T) {
	got := SanitizeHTML(`<p>before</p><script>steal()`)
	assert.Equal(t, "<p>before</p>", got)
}

// TestSanitizeHeader verifies control stripping and truncation.
func TestSanitizeHeader(t *testing.T) {
	assert.Equal(t, "abc", SanitizeHeader(" a\r\nb\x00c\x7f "))
	assert.Equal(t, "tab", SanitizeHeader("t\tab"))

	long := strings.Repeat("é", MaxHeaderLength+50)
	got := SanitizeHeader(long)
	assert.Equal(t, MaxHeaderLength, utf8.RuneCountInString(got))
}

// TestSanitizeSubject verifies header injection keywords are removed.
func TestSanitizeSubject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bcc injection", "Hello\r\nBcc: victim@x.org", "Hello victim@x.org"},
		{"mixed case", "Hi\nreply-TO : a@b.c", "Hi a@b.c"},
		{"first line keeps words", "To: the team", "To: the team"},
		{"non-latin untouched", "Привет мир 你好", "Привет мир 你好"},
		{"encoded word untouched", "=?UTF-8?B?SGk=?=", "=?UTF-8?B?SGk=?="},
		{"only newlines", "\r\n\r\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSubject(tt.in))
		})
	}
}

// TestReconstructPGP verifies PGP/MIME parts are inlined into the body.
func TestReconstructPGP(t *testing.T) {
	armored := "-----BEGIN PGP MESSAGE-----\n\nhQEMA0abc\n=XyZ1\n-----END PGP MESSAGE-----"
	atts := []models.Attachment{
		{Filename: "", ContentType: "application/pgp-encrypted", Content: base64.StdEncoding.EncodeToString([]byte("Version: 1\n"))},
		{Filename: "encrypted.asc", ContentType: "application/octet-stream", Content: base64.StdEncoding.EncodeToString([]byte(armored))},
		{Filename: "photo.jpg", ContentType: "image/jpeg", Content: "AAAA"},
	}

	text, remaining := ReconstructPGP("", atts)

	assert.Equal(t, armored, text)
	require.Len(t, remaining, 1)
	assert.Equal(t, "photo.jpg", remaining[0].Filename)
}

// TestReconstructPGP_WrapsBinary verifies binary packets get armor.
func TestReconstructPGP_WrapsBinary(t *testing.T) {
	binary := []byte{0x85, 0x01, 0x0c, 0x03, 0xff, 0xfe, 0x00, 0x10}
	atts := []models.Attachment{
		{ContentType: "application/pgp-encrypted; name=msg", Content: base64.StdEncoding.EncodeToString(binary)},
	}

	text, remaining := ReconstructPGP("Body", atts)

	assert.Empty(t, remaining)
	assert.True(t, strings.HasPrefix(text, "Body\n\n"+armorBegin))
	assert.True(t, strings.HasSuffix(text, armorEnd))
	assert.Contains(t, text, base64.StdEncoding.EncodeToString(binary))
}

// TestReconstructPGP_KeepsPlainOctetStream verifies ordinary binaries are
// left alone.
func TestReconstructPGP_KeepsPlainOctetStream(t *testing.T) {
	atts := []models.Attachment{
		{Filename: "data.bin", ContentType: "application/octet-stream", Content: base64.StdEncoding.EncodeToString([]byte("just data"))},
	}

	text, remaining := ReconstructPGP("Body", atts)

	assert.Equal(t, "Body", text)
	assert.Len(t, remaining, 1)
}

// TestNormalize_OutputIsSafe verifies every field of a hostile envelope is
// valid UTF-8 and JSON-encodable after normalization.
func TestNormalize_OutputIsSafe(t *testing.T) {
	env := &models.InboundEnvelope{
		From:     "=?UTF-8?B?SmFuZQ==?= <jane@x.org>\x00",
		To:       "user@local.tld",
		RcptTo:   "user+tag@local.tld",
		Subject:  "Hi\xff\r\nBcc: victim@x.org",
		TextBody: "body \xc3\x28 text\x00",
		HTMLBody: `<p>x</p><script>alert(1)</script><a href="https://ok.example/a">ok</a>`,
		Headers: models.Headers{
			"Cc":        "friend@x.org",
			"X-Weird\n": "v\x01al",
		},
		MessageID: "<abc@x.org>",
	}

	msg := Normalize(env)

	for _, s := range []string{msg.From, msg.To, msg.RcptTo, msg.Subject, msg.TextBody, msg.HTMLBody, msg.Cc, msg.MessageID} {
		assert.True(t, utf8.ValidString(s), "invalid utf-8: %q", s)
		assert.NotContains(t, s, "\x00")
	}
	_, err := json.Marshal(msg)
	require.NoError(t, err)

	assert.Equal(t, "Jane <jane@x.org>", msg.From)
	assert.Equal(t, "Hi� victim@x.org", msg.Subject)
	assert.Equal(t, "friend@x.org", msg.Cc)
	assert.Equal(t, "abc@x.org", msg.MessageID)
	assert.Equal(t, "val", msg.Headers.Get("X-Weird"))
	assert.NotContains(t, msg.HTMLBody, "alert")
	assert.Contains(t, msg.HTMLBody, `<a href="https://ok.example/a">ok</a>`)
}

// TestNormalize_PrefersCleanerSubject verifies the header subject is used
// when the envelope subject is garbled.
func TestNormalize_PrefersCleanerSubject(t *testing.T) {
	env := &models.InboundEnvelope{
		Subject: "CafÃ© menu",
		Headers: models.Headers{"subject": "=?UTF-8?Q?Caf=C3=A9_menu?="},
	}

	assert.Equal(t, "Café menu", Normalize(env).Subject)
}
