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
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/elektrine/ingestion/internal/models"
)

// ParseEML builds an envelope from a raw message. The first text/plain
// and text/html parts become the bodies; parts with a filename or an
// attachment disposition become attachments.
func ParseEML(r io.Reader) (*models.InboundEnvelope, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	m, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	env := &models.InboundEnvelope{
		From:      m.Header.Get("From"),
		To:        m.Header.Get("To"),
		Subject:   m.Header.Get("Subject"),
		MessageID: m.Header.Get("Message-Id"),
		Raw:       string(raw),
		Headers:   models.Headers{},
	}
	fields := m.Header.Fields()
	for fields.Next() {
		if _, seen := env.Headers[fields.Key()]; !seen {
			env.Headers[fields.Key()] = fields.Value()
		}
	}

	err = m.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}
		if part.MultipartReader() != nil {
			return nil
		}
		return addPart(env, part)
	})
	if err != nil {
		return nil, fmt.Errorf("walk message: %w", err)
	}

	if strings.TrimSpace(env.EnvelopeRecipient()) == "" {
		return nil, models.ErrNoRecipient
	}
	return env, nil
}

func addPart(env *models.InboundEnvelope, part *message.Entity) error {
	contentType, _, err := part.Header.ContentType()
	if err != nil {
		contentType = "text/plain"
	}
	disp, params, _ := part.Header.ContentDisposition()
	filename := params["filename"]

	body, err := io.ReadAll(part.Body)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("read %s part: %w", contentType, err)
	}

	switch {
	case disp == "attachment" || filename != "":
		env.Attachments = append(env.Attachments, models.Attachment{
			Filename:    filename,
			ContentType: contentType,
			Size:        len(body),
			Content:     base64.StdEncoding.EncodeToString(body),
		})
	case contentType == "text/plain" && env.TextBody == "":
		env.TextBody = string(body)
	case contentType == "text/html" && env.HTMLBody == "":
		env.HTMLBody = string(body)
	}
	return nil
}
