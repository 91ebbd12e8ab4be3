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


package models

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// ErrNoRecipient is returned for envelopes without any recipient.
var ErrNoRecipient = errors.New("envelope has no recipient")

// DecodeEnvelope reads a JSON envelope as posted by the MTA. When the raw
// message is included, its header block fills in headers and any of From,
// To, Subject and Message-ID the MTA left empty.
func DecodeEnvelope(r io.Reader) (*InboundEnvelope, error) {
	var env InboundEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Raw != "" {
		env.mergeRawHeaders()
	}
	if strings.TrimSpace(env.EnvelopeRecipient()) == "" {
		return nil, ErrNoRecipient
	}
	return &env, nil
}

// mergeRawHeaders copies header fields from the raw message. Fields the
// MTA already supplied are kept; repeated fields keep their first value.
func (e *InboundEnvelope) mergeRawHeaders() {
	h, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(e.Raw)))
	if err != nil && h.Len() == 0 {
		return
	}

	if e.Headers == nil {
		e.Headers = make(Headers, h.Len())
	}
	fields := h.Fields()
	for fields.Next() {
		if e.Headers.Get(fields.Key()) == "" {
			e.Headers[fields.Key()] = fields.Value()
		}
	}

	fill := func(dst *string, name string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = h.Get(name)
		}
	}
	fill(&e.From, "From")
	fill(&e.To, "To")
	fill(&e.Subject, "Subject")
	fill(&e.MessageID, "Message-Id")
}
