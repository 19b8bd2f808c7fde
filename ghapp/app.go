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

// Package ghapp ties together webhook verification, event routing, and
// installation authentication for a single GitHub App.
//
// A typical app registers handlers and mounts the App as an http.Handler:
//
//	app, err := ghapp.New(config)
//	...
//	app.On("issues.opened", func(ctx context.Context, ev *webhook.Event) error {
//		client, err := app.Client(ctx)
//		...
//	})
//	mux.Handle(pat.Post(app.Route()), app)
package ghapp

import (
	"context"
	"net/http"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/gregjones/httpcache"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"github.com/shurcooL/githubv4"

	"github.com/palantir/hookbot/token"
	"github.com/palantir/hookbot/webhook"
)

// ErrNoInstallation is returned when authenticating as an installation for
// an event that was not delivered to an installation.
var ErrNoInstallation = errors.New("event does not reference an installation")

type options struct {
	logger    zerolog.Logger
	registry  metrics.Registry
	userAgent string

	httpClient *http.Client
	transport  http.RoundTripper
	cache      httpcache.Cache
	middleware []githubapp.ClientMiddleware

	rateLimitRetries  int
	rateLimitMaxSleep time.Duration

	safetyMargin    time.Duration
	tokenCacheSize  int
	clientCacheSize int
	clock           func() time.Time

	dispatcherOpts []webhook.DispatcherOption
}

type Option func(*options)

// WithLogger sets the logger used for messages outside of a request.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegistry records webhook, token, and API client metrics.
func WithRegistry(registry metrics.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func WithClientUserAgent(agent string) Option {
	return func(o *options) {
		o.userAgent = agent
	}
}

// WithTokenHTTPClient sets the client used to exchange tokens and list
// installations.
func WithTokenHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithClientTransport sets the base transport of API clients.
func WithClientTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithClientCache enables response caching for API clients.
func WithClientCache(cache httpcache.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithClientMiddleware adds middleware to API clients. Logging and metrics
// middleware are always added.
func WithClientMiddleware(middleware ...githubapp.ClientMiddleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, middleware...)
	}
}

// WithRateLimit sets how API clients retry rate limited requests. Zero
// retries disables retrying.
func WithRateLimit(retries int, maxSleep time.Duration) Option {
	return func(o *options) {
		o.rateLimitRetries = retries
		o.rateLimitMaxSleep = maxSleep
	}
}

func WithTokenSafetyMargin(margin time.Duration) Option {
	return func(o *options) {
		o.safetyMargin = margin
	}
}

func WithCacheSizes(tokens, clients int) Option {
	return func(o *options) {
		o.tokenCacheSize = tokens
		o.clientCacheSize = clients
	}
}

// WithClock sets the clock used for token expiry and JWT claims.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

func WithDispatcherOptions(opts ...webhook.DispatcherOption) Option {
	return func(o *options) {
		o.dispatcherOpts = append(o.dispatcherOpts, opts...)
	}
}

// App is a configured GitHub App. Handlers registered with On run for each
// verified webhook delivery served by the App.
type App struct {
	config Config

	router     *webhook.Router
	dispatcher http.Handler
	exchanger  *token.Exchanger
	clients    *ClientCreator
}

func New(c Config, opts ...Option) (*App, error) {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid app configuration")
	}

	o := options{
		logger:            zerolog.Nop(),
		rateLimitRetries:  DefaultRateLimitRetries,
		rateLimitMaxSleep: DefaultRateLimitMaxSleep,
		safetyMargin:      token.DefaultSafetyMargin,
		tokenCacheSize:    token.DefaultCacheSize,
		clientCacheSize:   DefaultClientCacheSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	verifier, err := webhook.NewVerifier(c.WebhookSecret)
	if err != nil {
		return nil, err
	}
	if verifier.Disabled() {
		o.logger.Warn().Msg("Webhook signature verification is disabled; do not use this configuration in production")
	}

	signer, err := token.NewSigner(c.AppID, []byte(c.PrivateKey), token.WithSigningClock(o.clock))
	if err != nil {
		return nil, err
	}

	exchanger, err := token.NewExchanger(
		signer,
		token.WithBaseURL(c.BaseURL),
		token.WithHTTPClient(o.httpClient),
		token.WithSafetyMargin(o.safetyMargin),
		token.WithClock(o.clock),
		token.WithCacheSize(o.tokenCacheSize),
		token.WithMetrics(o.registry),
	)
	if err != nil {
		return nil, err
	}

	middleware := []githubapp.ClientMiddleware{githubapp.ClientLogging(zerolog.DebugLevel)}
	if o.registry != nil {
		middleware = append(middleware, githubapp.ClientMetrics(o.registry))
	}
	if o.rateLimitRetries > 0 {
		middleware = append(middleware, RateLimitRetry(o.rateLimitRetries, o.rateLimitMaxSleep, o.registry))
	}
	middleware = append(middleware, o.middleware...)

	clients, err := NewClientCreator(
		exchanger,
		c.V4URL,
		o.clientCacheSize,
		WithUserAgent(o.userAgent),
		WithTransport(o.transport),
		WithResponseCache(o.cache),
		WithMiddleware(middleware...),
	)
	if err != nil {
		return nil, err
	}

	router := webhook.NewRouter(webhook.WithRouterMetrics(o.registry))
	dispatcherOpts := append([]webhook.DispatcherOption{webhook.WithDispatcherMetrics(o.registry)}, o.dispatcherOpts...)

	return &App{
		config:     c,
		router:     router,
		dispatcher: webhook.NewDispatcher(router, verifier, dispatcherOpts...),
		exchanger:  exchanger,
		clients:    clients,
	}, nil
}

// Route returns the path where the App expects webhook deliveries.
func (a *App) Route() string {
	return a.config.WebhookRoute
}

func (a *App) Config() Config {
	return a.config
}

func (a *App) Router() *webhook.Router {
	return a.router
}

func (a *App) Exchanger() *token.Exchanger {
	return a.exchanger
}

func (a *App) ClientCreator() *ClientCreator {
	return a.clients
}

// ServeHTTP verifies and dispatches a webhook delivery.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.dispatcher.ServeHTTP(w, r)
}

// On registers fn for the "event" or "event.action" key and returns fn
// unchanged. It panics if the key is invalid; use Register to handle the
// error instead.
func (a *App) On(key string, fn webhook.HandlerFunc) webhook.HandlerFunc {
	if err := a.router.Register(key, "", fn); err != nil {
		panic(err)
	}
	return fn
}

// OnAsync is like On for handlers that report completion on a channel. The
// delivery is not acknowledged until the handler finishes.
func (a *App) OnAsync(key string, fn webhook.AsyncHandlerFunc) webhook.AsyncHandlerFunc {
	if err := a.router.Register(key, "", fn); err != nil {
		panic(err)
	}
	return fn
}

// Register adds a named handler for key.
func (a *App) Register(key, name string, h webhook.Handler) error {
	return a.router.Register(key, name, h)
}

// Payload returns the event being dispatched. It returns
// webhook.ErrNoActiveDispatch if ctx does not belong to a handler call.
func (a *App) Payload(ctx context.Context) (*webhook.Event, error) {
	return webhook.EventFromContext(ctx)
}

// InstallationID returns the installation that received the event being
// dispatched.
func (a *App) InstallationID(ctx context.Context) (int64, error) {
	ev, err := webhook.EventFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if ev.InstallationID <= 0 {
		return 0, ErrNoInstallation
	}
	return ev.InstallationID, nil
}

// InstallationToken returns an access token for the installation that
// received the event being dispatched.
func (a *App) InstallationToken(ctx context.Context) (*token.InstallationToken, error) {
	id, err := a.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	return a.exchanger.AccessToken(ctx, id)
}

func (a *App) AccessToken(ctx context.Context, installationID int64) (*token.InstallationToken, error) {
	return a.exchanger.AccessToken(ctx, installationID)
}

func (a *App) UserAccessToken(ctx context.Context, installationID, userID int64) (*token.InstallationToken, error) {
	return a.exchanger.UserAccessToken(ctx, installationID, userID)
}

// Client returns a REST client for the installation that received the event
// being dispatched.
func (a *App) Client(ctx context.Context) (*github.Client, error) {
	id, err := a.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	return a.clients.NewInstallationClient(id)
}

// V4Client is like Client but returns a GraphQL client.
func (a *App) V4Client(ctx context.Context) (*githubv4.Client, error) {
	id, err := a.InstallationID(ctx)
	if err != nil {
		return nil, err
	}
	return a.clients.NewInstallationV4Client(id)
}

func (a *App) ClientForInstallation(installationID int64) (*github.Client, error) {
	return a.clients.NewInstallationClient(installationID)
}

// ListInstallations returns one page of the app's installations. Zero values
// use GitHub's defaults.
func (a *App) ListInstallations(ctx context.Context, page, perPage int) ([]*github.Installation, error) {
	return a.exchanger.ListInstallations(ctx, token.ListOptions{Page: page, PerPage: perPage})
}
