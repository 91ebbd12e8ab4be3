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
	"strings"

	"github.com/elektrine/ingestion/internal/models"
)

// Normalize produces a NormalizedMessage from a raw envelope. Every string
// in the result is valid UTF-8 without NUL bytes.
func Normalize(env *models.InboundEnvelope) *models.NormalizedMessage {
	headers := make(models.Headers, len(env.Headers))
	for k, v := range env.Headers {
		name := SanitizeHeader(k)
		if name == "" {
			continue
		}
		headers[name] = SanitizeHeader(DecodeMIMEHeader(v))
	}

	subject := PickCleanerDecoding(
		DecodeMIMEHeader(env.Subject),
		DecodeMIMEHeader(env.Headers.Get("Subject")),
	)

	attachments := make([]models.Attachment, 0, len(env.Attachments))
	for _, a := range env.Attachments {
		attachments = append(attachments, models.Attachment{
			Filename:    SanitizeHeader(DecodeMIMEHeader(a.Filename)),
			ContentType: SanitizeHeader(a.ContentType),
			Size:        a.Size,
			Content:     SanitizeString(a.Content),
		})
	}

	text := SanitizeString(env.TextBody)
	text, attachments = ReconstructPGP(text, attachments)

	return &models.NormalizedMessage{
		From:        SanitizeHeader(DecodeMIMEHeader(env.From)),
		To:          SanitizeHeader(DecodeMIMEHeader(env.To)),
		Cc:          SanitizeHeader(DecodeMIMEHeader(env.Headers.Get("Cc"))),
		RcptTo:      SanitizeHeader(env.RcptTo),
		Subject:     SanitizeSubject(subject),
		TextBody:    text,
		HTMLBody:    SanitizeHTML(SanitizeString(env.HTMLBody)),
		Attachments: attachments,
		Headers:     headers,
		MessageID:   strings.Trim(SanitizeHeader(env.MessageID), "<>"),
		Raw:         SanitizeString(env.Raw),
	}
}
