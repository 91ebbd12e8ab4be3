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

// Package security rejects inbound messages that carry header or content
// attacks before any mailbox is touched.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/models"
)

// OriginHeader carries the signature internal services attach to mail they
// submit on behalf of a local address without SMTP authentication.
const OriginHeader = "X-Elektrine-Origin"

// originClockSkew tolerates signer clocks slightly ahead of ours.
const originClockSkew = time.Minute

// Rejection kinds.
const (
	KindLocalDomainSpoofing = "local_domain_spoofing"
	KindBounceAttack        = "bounce_attack"
	KindMultipleFromHeaders = "multiple_from_headers"
)

var (
	ErrLocalDomainSpoofing = errors.New("unauthenticated sender on hosted domain")
	ErrBounceAttack        = errors.New("backscatter bounce attack")
	ErrMultipleFromHeaders = errors.New("multiple From headers")
)

// Rejection is returned by every gate check. It unwraps to one of the
// sentinel errors above.
type Rejection struct {
	Kind   string
	Detail string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("security rejection (%s): %v", r.Kind, r.Err)
	}
	return fmt.Sprintf("security rejection (%s): %v: %s", r.Kind, r.Err, r.Detail)
}

func (r *Rejection) Unwrap() error { return r.Err }

// IsRejection reports whether err is a security rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// Gate runs the security checks for one deployment.
type Gate struct {
	domains      address.Domains
	originSecret []byte
	originMaxAge time.Duration
	now          func() time.Time
}

// NewGate creates a Gate for the given hosted domains. An empty
// originSecret disables signed internal submissions.
func NewGate(domains address.Domains, originSecret string, originMaxAge time.Duration) *Gate {
	return &Gate{
		domains:      domains,
		originSecret: []byte(originSecret),
		originMaxAge: originMaxAge,
		now:          time.Now,
	}
}

// Check runs every security check against the raw envelope. The first
// failing check wins.
func (g *Gate) Check(env *models.InboundEnvelope) error {
	if err := CheckMultipleFromHeaders(env.Raw); err != nil {
		return err
	}
	if err := g.CheckLocalDomainSpoofing(env.From, env.Auth, env.Headers); err != nil {
		return err
	}
	return CheckBounceAttack(env.From, env.EnvelopeRecipient(), env.Subject)
}

// CheckLocalDomainSpoofing rejects a From address on a hosted domain unless
// the submission was SMTP authenticated as that address or carries a valid
// origin signature. Mail from external domains always passes.
func (g *Gate) CheckLocalDomainSpoofing(from string, auth models.AuthContext, headers models.Headers) error {
	if !g.domains.IsLocal(from) {
		return nil
	}

	sender := address.Canonical(from)
	if auth.SMTPAuthenticated && address.Canonical(auth.AuthenticatedUser) == sender {
		return nil
	}
	if g.verifyOrigin(address.Normalize(from), headers.Get(OriginHeader)) {
		return nil
	}

	detail := "no authentication"
	if auth.SMTPAuthenticated {
		detail = "authenticated as a different user"
	}
	return &Rejection{Kind: KindLocalDomainSpoofing, Detail: detail, Err: ErrLocalDomainSpoofing}
}

// SignOrigin produces an OriginHeader value for from at time ts.
func SignOrigin(secret, from string, ts time.Time) string {
	unix := strconv.FormatInt(ts.Unix(), 10)
	return unix + ":" + originMAC([]byte(secret), strings.ToLower(strings.TrimSpace(from)), unix)
}

func (g *Gate) verifyOrigin(from, value string) bool {
	if len(g.originSecret) == 0 || value == "" {
		return false
	}
	tsPart, sig, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return false
	}
	unix, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return false
	}
	age := g.now().Sub(time.Unix(unix, 0))
	if age > g.originMaxAge || age < -originClockSkew {
		return false
	}
	want := originMAC(g.originSecret, from, tsPart)
	return hmac.Equal([]byte(strings.ToLower(sig)), []byte(want))
}

func originMAC(secret []byte, from, ts string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(from + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
