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

package handler

import (
	"context"

	"github.com/google/go-github/v65/github"

	"github.com/palantir/hookbot/webhook"
)

const (
	DefaultAppName      = "hookbot"
	DefaultCloseComment = "This issue was closed automatically."

	LogKeyGitHubRepo = "github_repo"
)

// EventHandler is a webhook handler that knows which keys it handles.
type EventHandler interface {
	webhook.Handler

	// Handles returns the "event" or "event.action" keys to register the
	// handler for.
	Handles() []string
}

// ClientSource returns a client for the installation that received the event
// being dispatched.
type ClientSource interface {
	Client(ctx context.Context) (*github.Client, error)
}

// InstallationLister lists installations of the app.
type InstallationLister interface {
	ListInstallations(ctx context.Context, page, perPage int) ([]*github.Installation, error)
}

// Register adds each handler to r under all of the keys it handles.
func Register(r *webhook.Router, handlers ...EventHandler) error {
	for _, h := range handlers {
		name := webhook.HandlerName(h)
		for _, key := range h.Handles() {
			if err := r.Register(key, name, h); err != nil {
				return err
			}
		}
	}
	return nil
}
