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
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"

	"github.com/palantir/hookbot/token"
)

const (
	DefaultWebhookRoute = "/webhooks/github/"
	DefaultBaseURL      = token.DefaultBaseURL

	EnvAppID         = "GITHUBAPP_ID"
	EnvPrivateKey    = "GITHUBAPP_PRIVATE_KEY"
	EnvWebhookSecret = "GITHUBAPP_WEBHOOK_SECRET"
	EnvWebhookPath   = "GITHUBAPP_WEBHOOK_PATH"
	EnvBaseURL       = "GITHUBAPP_URL"
)

// Config identifies the GitHub App and where its webhooks are received.
type Config struct {
	AppID         int64  `yaml:"app_id" json:"appId"`
	PrivateKey    string `yaml:"private_key" json:"privateKey"`
	WebhookSecret string `yaml:"webhook_secret" json:"webhookSecret"`
	WebhookRoute  string `yaml:"webhook_route" json:"webhookRoute"`

	// BaseURL is the REST API URL. V4URL is derived from it if empty.
	BaseURL string `yaml:"base_url" json:"baseUrl"`
	V4URL   string `yaml:"v4_url" json:"v4Url"`
}

// FromGitHubConfig converts the configuration format used by go-githubapp.
func FromGitHubConfig(c githubapp.Config) Config {
	return Config{
		AppID:         c.App.IntegrationID,
		PrivateKey:    c.App.PrivateKey,
		WebhookSecret: c.App.WebhookSecret,
		BaseURL:       c.V3APIURL,
		V4URL:         c.V4APIURL,
	}
}

// SetValuesFromEnv overrides values with the GITHUBAPP_* environment
// variables, if they are set.
func (c *Config) SetValuesFromEnv() error {
	if v, ok := os.LookupEnv(EnvAppID); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", EnvAppID)
		}
		c.AppID = id
	}
	if v, ok := os.LookupEnv(EnvPrivateKey); ok {
		// keys passed through env files often have escaped newlines
		c.PrivateKey = strings.ReplaceAll(v, `\n`, "\n")
	}
	if v, ok := os.LookupEnv(EnvWebhookSecret); ok {
		c.WebhookSecret = v
	}
	if v, ok := os.LookupEnv(EnvWebhookPath); ok {
		c.WebhookRoute = v
	}
	if v, ok := os.LookupEnv(EnvBaseURL); ok {
		c.BaseURL = v
	}
	return nil
}

// SetDefaults fills unset optional values.
func (c *Config) SetDefaults() {
	if c.WebhookRoute == "" {
		c.WebhookRoute = DefaultWebhookRoute
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.V4URL == "" {
		c.V4URL = v4URL(c.BaseURL)
	}
}

func (c *Config) Validate() error {
	if c.AppID <= 0 {
		return errors.New("app id must be set to a positive value")
	}
	if c.PrivateKey == "" {
		return errors.New("private key must be set")
	}
	if c.WebhookSecret == "" {
		return errors.Errorf("webhook secret must be set; use %q to disable signature verification", "disabled")
	}
	if !strings.HasPrefix(c.WebhookRoute, "/") {
		return errors.Errorf("webhook route must start with '/': %q", c.WebhookRoute)
	}
	for _, u := range []string{c.BaseURL, c.V4URL} {
		parsed, err := url.Parse(u)
		if err != nil {
			return errors.Wrapf(err, "invalid API URL %q", u)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return errors.Errorf("API URL must contain a scheme and a host: %q", u)
		}
	}
	return nil
}

// v4URL derives the GraphQL endpoint from a REST API URL. GitHub.com serves
// GraphQL at /graphql; GitHub Enterprise serves REST at /api/v3 and GraphQL
// at /api/graphql.
func v4URL(baseURL string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(base, "/api/v3") {
		return strings.TrimSuffix(base, "/v3") + "/graphql"
	}
	return base + "/graphql"
}
