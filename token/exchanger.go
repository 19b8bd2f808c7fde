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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	hmetrics "github.com/palantir/hookbot/metrics"
)

const (
	DefaultBaseURL      = "https://api.github.com"
	DefaultTimeout      = 10 * time.Second
	DefaultSafetyMargin = 60 * time.Second
	DefaultCacheSize    = 64

	acceptHeader = "application/vnd.github.v3+json"
)

// InstallationToken is a short-lived access token for one installation.
type InstallationToken struct {
	Token               string            `json:"token"`
	ExpiresAt           time.Time         `json:"expires_at"`
	Permissions         map[string]string `json:"permissions,omitempty"`
	RepositorySelection string            `json:"repository_selection,omitempty"`
}

// ValidAt returns true if the token can be used at now without expiring
// within margin. Tokens with no expiry are never valid for reuse.
func (t *InstallationToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

type cacheKey struct {
	installationID int64
	userID         int64
}

func (k cacheKey) String() string {
	if k.userID > 0 {
		return fmt.Sprintf("%d/%d", k.installationID, k.userID)
	}
	return fmt.Sprintf("%d", k.installationID)
}

type Option func(*Exchanger)

// WithBaseURL sets the GitHub API URL, for GitHub Enterprise or tests.
func WithBaseURL(baseURL string) Option {
	return func(e *Exchanger) {
		if baseURL != "" {
			e.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the client used for app requests.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Exchanger) {
		if client != nil {
			e.client = client
		}
	}
}

// WithSafetyMargin sets how long before expiry a cached token is replaced.
func WithSafetyMargin(margin time.Duration) Option {
	return func(e *Exchanger) {
		if margin >= 0 {
			e.margin = margin
		}
	}
}

// WithClock sets the clock used to check token expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Exchanger) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCacheSize sets the number of tokens to keep.
func WithCacheSize(size int) Option {
	return func(e *Exchanger) {
		if size > 0 {
			e.cacheSize = size
		}
	}
}

// WithMetrics records token refreshes and failures in the registry.
func WithMetrics(registry metrics.Registry) Option {
	return func(e *Exchanger) {
		e.registry = registry
	}
}

// Exchanger trades app JWTs for installation access tokens and caches the
// results. It is safe for concurrent use; concurrent requests for the same
// token share a single exchange.
type Exchanger struct {
	signer    *Signer
	client    *http.Client
	baseURL   string
	margin    time.Duration
	now       func() time.Time
	cacheSize int
	registry  metrics.Registry

	cache *lru.Cache
	group singleflight.Group
}

func NewExchanger(signer *Signer, opts ...Option) (*Exchanger, error) {
	if signer == nil {
		return nil, errors.New("exchanger requires a signer")
	}

	e := &Exchanger{
		signer:    signer,
		client:    &http.Client{Timeout: DefaultTimeout},
		baseURL:   DefaultBaseURL,
		margin:    DefaultSafetyMargin,
		now:       time.Now,
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	cache, err := lru.New(e.cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token cache")
	}
	e.cache = cache

	return e, nil
}

func (e *Exchanger) Signer() *Signer {
	return e.signer
}

func (e *Exchanger) BaseURL() string {
	return e.baseURL
}

// AccessToken returns a token for the installation, exchanging a new one if
// there is no cached token or the cached token is about to expire.
func (e *Exchanger) AccessToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	return e.token(ctx, cacheKey{installationID: installationID})
}

// UserAccessToken is like AccessToken but returns a token scoped to a user
// of the installation.
func (e *Exchanger) UserAccessToken(ctx context.Context, installationID, userID int64) (*InstallationToken, error) {
	if userID <= 0 {
		return nil, errors.Errorf("invalid user id: %d", userID)
	}
	return e.token(ctx, cacheKey{installationID: installationID, userID: userID})
}

// Invalidate drops any cached token for the installation.
func (e *Exchanger) Invalidate(installationID int64) {
	for _, k := range e.cache.Keys() {
		if key, ok := k.(cacheKey); ok && key.installationID == installationID {
			e.cache.Remove(k)
		}
	}
}

func (e *Exchanger) cached(key cacheKey) (*InstallationToken, bool) {
	v, ok := e.cache.Get(key)
	if !ok {
		return nil, false
	}
	tok := v.(*InstallationToken)
	if !tok.ValidAt(e.now(), e.margin) {
		return nil, false
	}
	return tok, true
}

func (e *Exchanger) token(ctx context.Context, key cacheKey) (*InstallationToken, error) {
	if key.installationID <= 0 {
		return nil, errors.Errorf("invalid installation id: %d", key.installationID)
	}
	if tok, ok := e.cached(key); ok {
		return tok, nil
	}

	// The exchange outlives any single caller so that one cancelled waiter
	// does not fail the others sharing it.
	fetchCtx := context.WithoutCancel(ctx)

	ch := e.group.DoChan(key.String(), func() (interface{}, error) {
		if tok, ok := e.cached(key); ok {
			return tok, nil
		}

		tok, err := e.exchange(fetchCtx, key)
		if err != nil {
			hmetrics.TokenErrors(e.registry).Inc(1)
			return nil, err
		}
		hmetrics.TokenRefreshes(e.registry).Inc(1)

		if !tok.ExpiresAt.IsZero() {
			e.cache.Add(key, tok)
		}
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*InstallationToken), nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "gave up waiting for token for installation %d", key.installationID)
	}
}

func (e *Exchanger) exchange(ctx context.Context, key cacheKey) (*InstallationToken, error) {
	op := fmt.Sprintf("create token for installation %d", key.installationID)

	var body io.Reader
	if key.userID > 0 {
		b, err := json.Marshal(struct {
			UserID int64 `json:"user_id"`
		}{key.userID})
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(b)
	}

	u := fmt.Sprintf("%s/app/installations/%d/access_tokens", e.baseURL, key.installationID)
	res, err := e.doApp(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	b, err := readResponse(op, res)
	if err != nil {
		return nil, err
	}

	var tok InstallationToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, errors.Wrapf(err, "%s: invalid response body", op)
	}
	if tok.Token == "" {
		return nil, errors.Errorf("%s: response did not contain a token", op)
	}

	logger := zerolog.Ctx(ctx).Debug().Int64(githubapp.LogKeyInstallationID, key.installationID)
	if !tok.ExpiresAt.IsZero() {
		logger = logger.Time("expires_at", tok.ExpiresAt)
	}
	logger.Msg("Created installation access token")

	return &tok, nil
}

// doApp sends a request authenticated as the app itself.
func (e *Exchanger) doApp(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	appJWT, err := e.signer.CreateJWT()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", acceptHeader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	return res, nil
}

func readResponse(op string, res *http.Response) ([]byte, error) {
	defer func() {
		_ = res.Body.Close()
	}()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read response", op)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, newAPIError(op, res.StatusCode, b)
	}
	return b, nil
}
