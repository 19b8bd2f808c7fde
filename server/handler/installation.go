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
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/palantir/hookbot/webhook"
)

// Installation logs changes to the app's installations.
type Installation struct{}

func (h *Installation) Handles() []string {
	return []string{"installation", "installation_repositories"}
}

// Handle installation, installation_repositories
// https://docs.github.com/en/webhooks/webhook-events-and-payloads#installation
// https://docs.github.com/en/webhooks/webhook-events-and-payloads#installation_repositories
func (h *Installation) Handle(ctx context.Context, ev *webhook.Event) error {
	var account string
	var added, removed []*github.Repository

	switch ev.Name {
	case "installation":
		var event github.InstallationEvent
		if err := ev.Decode(&event); err != nil {
			return err
		}
		account = event.GetInstallation().GetAccount().GetLogin()
		added = event.Repositories

	case "installation_repositories":
		var event github.InstallationRepositoriesEvent
		if err := ev.Decode(&event); err != nil {
			return err
		}
		account = event.GetInstallation().GetAccount().GetLogin()
		added = event.RepositoriesAdded
		removed = event.RepositoriesRemoved

	default:
		return errors.Errorf("unsupported event type %q", ev.Name)
	}

	zerolog.Ctx(ctx).Info().
		Str("account", account).
		Strs("repositories_added", repoNames(added)).
		Strs("repositories_removed", repoNames(removed)).
		Msgf("Installation %d: %s", ev.InstallationID, ev.Action)

	return nil
}

func repoNames(repos []*github.Repository) []string {
	names := make([]string, 0, len(repos))
	for _, r := range repos {
		names = append(names, r.GetFullName())
	}
	return names
}
