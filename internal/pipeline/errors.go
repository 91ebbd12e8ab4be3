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

import (
	"errors"
	"fmt"

	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/security"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindSecurityRejection is a security gate failure. Never retried.
	KindSecurityRejection Kind = "security_rejection"
	// KindRoutingFailure means no local mailbox owns the recipient.
	KindRoutingFailure Kind = "routing_failure"
	// KindValidationFailure is a malformed filter definition.
	KindValidationFailure Kind = "validation_failure"
	// KindTransientFailure asks the sender to retry later.
	KindTransientFailure Kind = "transient_failure"
	// KindSoftFailure is logged and never changes the outcome.
	KindSoftFailure Kind = "soft_failure"
)

// Reasons that are not routing or security kinds.
const (
	ReasonRateLimited      = "rate_limited"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonQueueUnavailable = "queue_unavailable"
	ReasonInternal         = "internal_error"
)

// SMTP bounce classes returned to the MTA.
const (
	BounceSecurity    = "550 5.7.1"
	BounceNoMailbox   = "550 5.1.1"
	BounceRateLimited = "451 4.7.1"
	BounceTransient   = "451 4.3.0"
	BounceInvalid     = "550 5.6.0"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent reports whether the sender should give up.
func (e *Error) Permanent() bool {
	return e.Kind != KindTransientFailure
}

// BounceCode maps the failure to an SMTP reply class.
func (e *Error) BounceCode() string {
	switch e.Kind {
	case KindSecurityRejection:
		return BounceSecurity
	case KindRoutingFailure:
		return BounceNoMailbox
	case KindValidationFailure:
		return BounceInvalid
	}
	if e.Reason == ReasonRateLimited {
		return BounceRateLimited
	}
	return BounceTransient
}

// Classify converts any error into an *Error. Security rejections and
// filter validation errors keep their kind; everything unrecognised is
// transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if rej, ok := security.IsRejection(err); ok {
		return &Error{Kind: KindSecurityRejection, Reason: rej.Kind, Err: err}
	}
	var ve *filters.ValidationError
	if errors.As(err, &ve) {
		return &Error{Kind: KindValidationFailure, Reason: ve.Path, Err: err}
	}
	return &Error{Kind: KindTransientFailure, Reason: ReasonStoreUnavailable, Err: err}
}

func routingFailure(reason string) *Error {
	return &Error{Kind: KindRoutingFailure, Reason: reason}
}

func transient(reason string, err error) *Error {
	return &Error{Kind: KindTransientFailure, Reason: reason, Err: err}
}
