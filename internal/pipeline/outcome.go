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


package pipeline

import "net/http"

// Status is the terminal state of one ingestion.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
	StatusSkipped   Status = "skipped"
)

// Outcome is what the MTA is told about a message.
type Outcome struct {
	Status         Status `json:"status"`
	MessageID      string `json:"message_id,omitempty"`
	StoredID       int64  `json:"stored_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Category       string `json:"category,omitempty"`
	Reason         string `json:"reason,omitempty"`
	BounceCode     string `json:"bounce_code,omitempty"`
	Permanent      bool   `json:"permanent,omitempty"`
	Queued         bool   `json:"queued,omitempty"`
	ForwardedTo    string `json:"forwarded_to,omitempty"`
}

// Rejected builds the outcome for a failed ingestion.
func Rejected(err *Error) Outcome {
	return Outcome{
		Status:     StatusRejected,
		Reason:     err.Reason,
		BounceCode: err.BounceCode(),
		Permanent:  err.Permanent(),
	}
}

// Temporary reports whether the sender should retry.
func (o Outcome) Temporary() bool {
	return o.Status == StatusRejected && !o.Permanent
}

// HTTPStatus maps the outcome to the webhook response code.
func (o Outcome) HTTPStatus() int {
	switch {
	case o.Status == StatusRejected && o.Permanent:
		return http.StatusUnprocessableEntity
	case o.Status == StatusRejected:
		return http.StatusServiceUnavailable
	case o.Queued:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}
