// Copyright 2026 Palantir Technologies, Inc.
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

package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/http"
	"strings"

	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
)

const (
	// DisabledSecret is the webhook secret value that turns off signature
	// verification. Never use it in production: any client that can reach
	// the webhook route can then invoke handlers with arbitrary payloads.
	DisabledSecret = "disabled"

	SignatureHeader       = github.SHA256SignatureHeader
	LegacySignatureHeader = github.SHA1SignatureHeader

	sha256Prefix = "sha256="
	sha1Prefix   = "sha1="
)

var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrSignatureMismatch  = errors.New("webhook signature does not match payload")
)

// Verifier checks the HMAC signatures GitHub attaches to webhook deliveries.
type Verifier struct {
	secret   []byte
	disabled bool
}

// NewVerifier returns a Verifier for the given shared secret. The secret is
// required; pass DisabledSecret to explicitly skip verification.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if secret == DisabledSecret {
		return &Verifier{disabled: true}, nil
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Disabled returns true if this verifier accepts every payload.
func (v *Verifier) Disabled() bool {
	return v.disabled
}

// Verify checks a "sha256=<hex>" signature against the body.
func (v *Verifier) Verify(body []byte, signature string) error {
	if v.disabled {
		return nil
	}
	return v.verify(body, signature, sha256Prefix, sha256.Size)
}

// VerifyRequest checks the signature headers of a delivery. The SHA-256
// header is preferred; the legacy SHA-1 header is only consulted when the
// SHA-256 header is absent.
func (v *Verifier) VerifyRequest(h http.Header, body []byte) error {
	if v.disabled {
		return nil
	}
	if sig := h.Get(SignatureHeader); sig != "" {
		return v.verify(body, sig, sha256Prefix, sha256.Size)
	}
	if sig := h.Get(LegacySignatureHeader); sig != "" {
		return v.verify(body, sig, sha1Prefix, sha1.Size)
	}
	return ErrMissingSignature
}

// verify rejects signatures that are not a hex digest of the expected
// algorithm before asking go-github to compare the MAC.
func (v *Verifier) verify(body []byte, signature, prefix string, size int) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signature, prefix) {
		return ErrMalformedSignature
	}
	digest := strings.TrimPrefix(signature, prefix)
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != 2*size {
		return ErrMalformedSignature
	}

	if err := github.ValidateSignature(signature, body, v.secret); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign256 returns the X-Hub-Signature-256 header value for body. It is meant
// for tests and tools that send deliveries.
func Sign256(body, secret []byte) string {
	return sha256Prefix + hex.EncodeToString(computeMAC(sha256.New, secret, body))
}

// Sign1 returns the legacy X-Hub-Signature header value for body.
func Sign1(body, secret []byte) string {
	return sha1Prefix + hex.EncodeToString(computeMAC(sha1.New, secret, body))
}

func computeMAC(fn func() hash.Hash, secret, body []byte) []byte {
	mac := hmac.New(fn, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
