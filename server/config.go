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
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/palantir/go-baseapp/baseapp"
	"github.com/palantir/go-baseapp/baseapp/datadog"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/palantir/hookbot/ghapp"
)

const (
	DefaultEnvPrefix = "HOOKBOT_"
)

type Config struct {
	Server  baseapp.HTTPConfig `yaml:"server"`
	Logging LoggingConfig      `yaml:"logging"`
	Cache   CachingConfig      `yaml:"cache"`
	Github  githubapp.Config   `yaml:"github"`
	App     AppConfig          `yaml:"app"`
	Datadog datadog.Config     `yaml:"datadog"`
}

type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	Text  bool   `yaml:"text" json:"text"`
}

func (c *LoggingConfig) SetValuesFromEnv(prefix string) {
	if v, ok := os.LookupEnv(prefix + "LOG_LEVEL"); ok {
		c.Level = v
	}
	if v, ok := os.LookupEnv(prefix + "LOG_TEXT"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Text = b
		}
	}
}

type CachingConfig struct {
	MaxSize datasize.ByteSize `yaml:"max_size"`
	Tokens  int               `yaml:"tokens"`
	Clients int               `yaml:"clients"`
}

type AppConfig struct {
	WebhookRoute      string          `yaml:"webhook_route"`
	GithubTimeout     time.Duration   `yaml:"github_timeout"`
	TokenSafetyMargin time.Duration   `yaml:"token_safety_margin"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	IssueCloser       IssueCloser     `yaml:"issue_closer"`
}

type RateLimitConfig struct {
	// Retries is the number of times to retry a rate limited request. A
	// negative value disables retries.
	Retries  int           `yaml:"retries"`
	MaxSleep time.Duration `yaml:"max_sleep"`
}

type IssueCloser struct {
	Enabled bool   `yaml:"enabled"`
	Comment string `yaml:"comment"`
}

func (c *AppConfig) SetValuesFromEnv(prefix string) {
	if v, ok := os.LookupEnv(prefix + "WEBHOOK_ROUTE"); ok {
		c.WebhookRoute = v
	}
	if v, ok := os.LookupEnv(prefix + "RATE_LIMIT_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Retries = n
		}
	}
	if v, ok := os.LookupEnv(prefix + "RATE_LIMIT_MAX_SLEEP"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			c.RateLimit.MaxSleep = d
		}
	}
}

// GitHubApp returns the app configuration, preferring the GITHUBAPP_*
// environment variables over values from the github section.
func (c *Config) GitHubApp() (ghapp.Config, error) {
	appConfig := ghapp.FromGitHubConfig(c.Github)
	appConfig.WebhookRoute = c.App.WebhookRoute

	if err := appConfig.SetValuesFromEnv(); err != nil {
		return ghapp.Config{}, err
	}
	appConfig.SetDefaults()

	if err := appConfig.Validate(); err != nil {
		return ghapp.Config{}, errors.Wrap(err, "invalid github configuration")
	}
	return appConfig, nil
}

func ParseConfig(bytes []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(bytes, &c); err != nil {
		return nil, errors.Wrapf(err, "failed unmarshalling yaml")
	}

	envPrefix := DefaultEnvPrefix
	if v, ok := os.LookupEnv("HOOKBOT_ENV_PREFIX"); ok {
		envPrefix = v
	}

	c.Server.SetValuesFromEnv(envPrefix)
	c.Logging.SetValuesFromEnv(envPrefix)
	c.App.SetValuesFromEnv(envPrefix)
	c.Github.SetValuesFromEnv("")

	return &c, nil
}
