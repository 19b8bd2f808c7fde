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

package ghapp

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v65/github"
	"github.com/gregjones/httpcache"
	lru "github.com/hashicorp/golang-lru"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/palantir/hookbot/token"
)

const DefaultClientCacheSize = 64

// ClientCreator builds GitHub clients authenticated as installations of the
// app. Clients are cached per installation and share one response cache.
type ClientCreator struct {
	exchanger *token.Exchanger

	v3URL      *url.URL
	v4URL      string
	userAgent  string
	transport  http.RoundTripper
	middleware []githubapp.ClientMiddleware

	clients *lru.Cache
}

type ClientCreatorOption func(*ClientCreator)

// WithUserAgent sets the base user agent for all created clients.
func WithUserAgent(agent string) ClientCreatorOption {
	return func(c *ClientCreator) {
		c.userAgent = agent
	}
}

// WithResponseCache enables conditional request caching for all created
// clients using the given cache.
func WithResponseCache(cache httpcache.Cache) ClientCreatorOption {
	return func(c *ClientCreator) {
		if cache != nil {
			c.transport = &httpcache.Transport{
				Transport:           c.transport,
				Cache:               cache,
				MarkCachedResponses: true,
			}
		}
	}
}

// WithTransport sets the transport used for API requests. It must be set
// before WithResponseCache to be cached.
func WithTransport(rt http.RoundTripper) ClientCreatorOption {
	return func(c *ClientCreator) {
		if rt != nil {
			c.transport = rt
		}
	}
}

// WithMiddleware adds middleware that is applied to all created clients.
func WithMiddleware(middleware ...githubapp.ClientMiddleware) ClientCreatorOption {
	return func(c *ClientCreator) {
		c.middleware = append(c.middleware, middleware...)
	}
}

func NewClientCreator(exchanger *token.Exchanger, v4URL string, capacity int, opts ...ClientCreatorOption) (*ClientCreator, error) {
	v3URL, err := url.Parse(exchanger.BaseURL() + "/")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL: %q", exchanger.BaseURL())
	}

	if capacity <= 0 {
		capacity = DefaultClientCacheSize
	}
	clients, err := lru.New(capacity)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client cache")
	}

	c := &ClientCreator{
		exchanger: exchanger,
		v3URL:     v3URL,
		v4URL:     strings.TrimSuffix(v4URL, "/"),
		transport: http.DefaultTransport,
		clients:   clients,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewInstallationClient returns a REST client authenticated as the
// installation.
func (c *ClientCreator) NewInstallationClient(installationID int64) (*github.Client, error) {
	key := fmt.Sprintf("v3:%d", installationID)
	if v, ok := c.clients.Get(key); ok {
		if client, ok := v.(*github.Client); ok {
			return client, nil
		}
	}

	if installationID <= 0 {
		return nil, errors.Errorf("invalid installation id: %d", installationID)
	}

	client := github.NewClient(c.newHTTPClient(installationID, nil))
	client.BaseURL = c.v3URL
	client.UserAgent = c.makeUserAgent(installationID)

	c.clients.Add(key, client)
	return client, nil
}

// NewInstallationV4Client returns a GraphQL client authenticated as the
// installation.
func (c *ClientCreator) NewInstallationV4Client(installationID int64) (*githubv4.Client, error) {
	key := fmt.Sprintf("v4:%d", installationID)
	if v, ok := c.clients.Get(key); ok {
		if client, ok := v.(*githubv4.Client); ok {
			return client, nil
		}
	}

	if installationID <= 0 {
		return nil, errors.Errorf("invalid installation id: %d", installationID)
	}

	httpClient := c.newHTTPClient(installationID, []githubapp.ClientMiddleware{
		setUserAgentHeader(c.makeUserAgent(installationID)),
	})
	client := githubv4.NewEnterpriseClient(c.v4URL, httpClient)

	c.clients.Add(key, client)
	return client, nil
}

func (c *ClientCreator) newHTTPClient(installationID int64, extra []githubapp.ClientMiddleware) *http.Client {
	var rt http.RoundTripper = &installationTransport{
		exchanger:      c.exchanger,
		installationID: installationID,
		base:           c.transport,
	}

	middleware := append(extra, c.middleware...)
	for i := len(middleware) - 1; i >= 0; i-- {
		rt = middleware[i](rt)
	}
	return &http.Client{Transport: rt}
}

func (c *ClientCreator) makeUserAgent(installationID int64) string {
	base := c.userAgent
	if base == "" {
		base = "hookbot/undefined"
	}
	return fmt.Sprintf("%s (installation: %d)", base, installationID)
}

// installationTransport authenticates requests as an installation. Token
// exchanges run with the request's context.
type installationTransport struct {
	exchanger      *token.Exchanger
	installationID int64
	base           http.RoundTripper
}

func (t *installationTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.exchanger.AccessToken(r.Context(), t.installationID)
	if err != nil {
		if r.Body != nil {
			_ = r.Body.Close()
		}
		return nil, err
	}

	r = r.Clone(r.Context())
	(&oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "token",
		Expiry:      tok.ExpiresAt,
	}).SetAuthHeader(r)

	return t.base.RoundTrip(r)
}

func setUserAgentHeader(agent string) githubapp.ClientMiddleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			r = r.Clone(r.Context())
			r.Header.Set("User-Agent", agent)
			return next.RoundTrip(r)
		})
	}
}
