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

package token

import (
	"crypto/rsa"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

const (
	// JWTBackdate is subtracted from the issued-at time to tolerate clock
	// drift between this host and GitHub.
	JWTBackdate = 60 * time.Second

	// JWTLifetime is the maximum lifetime GitHub accepts for app JWTs.
	JWTLifetime = 10 * time.Minute
)

// Signer creates JWTs that authenticate as a GitHub App.
type Signer struct {
	appID int64
	key   *rsa.PrivateKey
	now   func() time.Time
}

type SignerOption func(*Signer)

// WithSigningClock sets the clock used for issued-at and expiry claims.
func WithSigningClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner parses a PEM-encoded RSA private key (PKCS1 or PKCS8) and returns
// a Signer for the app.
func NewSigner(appID int64, privateKey []byte, opts ...SignerOption) (*Signer, error) {
	if appID <= 0 {
		return nil, errors.Errorf("invalid app id: %d", appID)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	s := &Signer{
		appID: appID,
		key:   key,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Signer) AppID() int64 {
	return s.appID
}

// CreateJWT returns a signed RS256 token with the app id as issuer.
func (s *Signer) CreateJWT() (string, error) {
	now := s.now()

	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-JWTBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(JWTLifetime)),
		Issuer:    strconv.FormatInt(s.appID, 10),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign app jwt")
	}
	return signed, nil
}
