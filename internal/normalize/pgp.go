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
	"log/slog"
	"strings"

	"github.com/elektrine/ingestion/internal/models"
)

const (
	armorBegin   = "-----BEGIN PGP MESSAGE-----"
	armorEnd     = "-----END PGP MESSAGE-----"
	armorLineLen = 64
)

// ReconstructPGP moves PGP/MIME payloads out of the attachment list and
// back into the text body so the message can be decrypted downstream.
//
// Parts typed application/pgp-encrypted or application/pgp-signature are
// always considered. application/octet-stream parts and .asc files are
// considered only when their decoded content is already armored. The
// "Version: 1" control part of PGP/MIME is dropped. Parts that cannot be
// decoded stay in the attachment list.
func ReconstructPGP(text string, attachments []models.Attachment) (string, []models.Attachment) {
	if len(attachments) == 0 {
		return text, attachments
	}

	remaining := make([]models.Attachment, 0, len(attachments))
	var blocks []string

	for _, a := range attachments {
		ct := strings.ToLower(strings.TrimSpace(a.ContentType))
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = strings.TrimSpace(ct[:i])
		}
		explicit := ct == "application/pgp-encrypted" || ct == "application/pgp-signature"
		candidate := explicit || ct == "application/octet-stream" ||
			strings.HasSuffix(strings.ToLower(a.Filename), ".asc")
		if !candidate {
			remaining = append(remaining, a)
			continue
		}

		payload, ok := decodePayload(a.Content)
		if !ok {
			if explicit {
				slog.Warn("pgp part could not be decoded, keeping as attachment",
					"filename", a.Filename, "content_type", a.ContentType)
			}
			remaining = append(remaining, a)
			continue
		}

		if isVersionControlPart(payload) {
			continue
		}

		armored := strings.Contains(payload, "-----BEGIN PGP")
		if !explicit && !armored {
			remaining = append(remaining, a)
			continue
		}
		if !armored {
			payload = armor([]byte(payload))
		}
		blocks = append(blocks, strings.TrimSpace(payload))
	}

	if len(blocks) == 0 {
		return text, remaining
	}

	parts := make([]string, 0, len(blocks)+1)
	if t := strings.TrimRight(text, "\r\n "); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, blocks...)
	return strings.Join(parts, "\n\n"), remaining
}

// decodePayload base64-decodes attachment content, falling back to the raw
// text when it is not base64. Empty or non-UTF-8 results are rejected.
func decodePayload(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", false
	}
	compact := strings.Join(strings.Fields(content), "")
	if b, err := base64.StdEncoding.DecodeString(compact); err == nil && len(b) > 0 {
		s := SanitizeUTF8(b)
		if !strings.ContainsRune(s, '�') {
			return s, true
		}
		// Binary OpenPGP packets.
		return string(b), true
	}
	if strings.ContainsRune(SanitizeString(content), '�') {
		return "", false
	}
	return content, true
}

func isVersionControlPart(payload string) bool {
	return strings.TrimSpace(payload) == "Version: 1"
}

// armor wraps binary OpenPGP data in ASCII armor.
func armor(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var sb strings.Builder
	sb.WriteString(armorBegin)
	sb.WriteString("\n\n")
	for len(enc) > armorLineLen {
		sb.WriteString(enc[:armorLineLen])
		sb.WriteByte('\n')
		enc = enc[armorLineLen:]
	}
	sb.WriteString(enc)
	sb.WriteByte('\n')
	sb.WriteString(armorEnd)
	return sb.String()
}
