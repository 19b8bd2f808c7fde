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


package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bluekeyes/hatpear"
	"github.com/c2h5oh/datasize"
	"github.com/die-net/lrucache"
	"github.com/palantir/go-baseapp/baseapp"
	"github.com/palantir/go-baseapp/baseapp/datadog"
	"github.com/pkg/errors"
	"goji.io"
	"goji.io/pat"

	"github.com/palantir/hookbot/ghapp"
	"github.com/palantir/hookbot/metrics"
	"github.com/palantir/hookbot/server/handler"
	"github.com/palantir/hookbot/version"
)

const (
	DefaultGitHubTimeout = 10 * time.Second
	DefaultHTTPCacheSize = 50 * datasize.MB
)

type Server struct {
	config *Config
	base   *baseapp.Server
	app    *ghapp.App
}

// New instantiates a new Server.
// Callers must then invoke Start to run the Server.
func New(c *Config) (*Server, error) {
	logger := baseapp.NewLogger(baseapp.LoggingConfig{
		Level:  c.Logging.Level,
		Pretty: c.Logging.Text,
	})

	basePath := ""
	if c.Server.PublicURL != "" {
		publicURL, err := url.Parse(c.Server.PublicURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed parse public URL")
		}
		basePath = strings.TrimSuffix(publicURL.Path, "/")
	}

	appConfig, err := c.GitHubApp()
	if err != nil {
		return nil, err
	}

	base, err := baseapp.NewServer(c.Server, baseapp.DefaultParams(logger, "hookbot.")...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize base server")
	}

	maxSize := int64(DefaultHTTPCacheSize)
	if c.Cache.MaxSize != 0 {
		maxSize = int64(c.Cache.MaxSize)
	}
	responseCache := lrucache.New(maxSize, 0)
	metrics.GitHubCacheApproxSize(base.Registry(), responseCache.Size)

	githubTimeout := c.App.GithubTimeout
	if githubTimeout == 0 {
		githubTimeout = DefaultGitHubTimeout
	}

	opts := []ghapp.Option{
		ghapp.WithLogger(logger),
		ghapp.WithRegistry(base.Registry()),
		ghapp.WithClientUserAgent(fmt.Sprintf("hookbot/%s", version.GetVersion())),
		ghapp.WithTokenHTTPClient(&http.Client{Timeout: githubTimeout}),
		ghapp.WithClientCache(responseCache),
		ghapp.WithCacheSizes(c.Cache.Tokens, c.Cache.Clients),
	}
	if c.App.TokenSafetyMargin > 0 {
		opts = append(opts, ghapp.WithTokenSafetyMargin(c.App.TokenSafetyMargin))
	}
	if rl := c.App.RateLimit; rl.Retries != 0 || rl.MaxSleep != 0 {
		retries, maxSleep := rl.Retries, rl.MaxSleep
		if retries == 0 {
			retries = ghapp.DefaultRateLimitRetries
		}
		if maxSleep == 0 {
			maxSleep = ghapp.DefaultRateLimitMaxSleep
		}
		opts = append(opts, ghapp.WithRateLimit(retries, maxSleep))
	}

	app, err := ghapp.New(appConfig, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize GitHub app")
	}

	handlers := []handler.EventHandler{
		&handler.Installation{},
	}
	if c.App.IssueCloser.Enabled {
		handlers = append(handlers, &handler.IssueCloser{
			Clients: app,
			Comment: c.App.IssueCloser.Comment,
		})
	}
	if err := handler.Register(app.Router(), handlers...); err != nil {
		return nil, errors.Wrap(err, "failed to register webhook handlers")
	}

	var mux *goji.Mux
	if basePath == "" {
		mux = base.Mux()
	} else {
		mux = goji.SubMux()
		base.Mux().Handle(pat.New(basePath+"/*"), mux)
	}

	// webhook route
	mux.Handle(pat.Post(app.Route()), app)

	// additional API routes
	mux.Handle(pat.Get("/api/health"), handler.Health())
	mux.Handle(pat.Get("/api/installations"), hatpear.Try(&handler.Installations{Lister: app}))

	logger.Info().
		Int64("app_id", appConfig.AppID).
		Str("route", basePath+app.Route()).
		Strs("handlers", app.Router().Keys()).
		Msg("Configured GitHub app")

	return &Server{
		config: c,
		base:   base,
		app:    app,
	}, nil
}

func (s *Server) App() *ghapp.App {
	return s.app
}

func (s *Server) Handler() http.Handler {
	return s.base.Mux()
}

// Start is blocking and long-running
func (s *Server) Start() error {
	if s.config.Datadog.Address != "" {
		if err := datadog.StartEmitter(s.base, s.config.Datadog); err != nil {
			return err
		}
	}
	return s.base.Start()
}
