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

// IssueCloser comments on and closes every opened or reopened issue.
type IssueCloser struct {
	Clients ClientSource
	Comment string
}

func (h *IssueCloser) Handles() []string {
	return []string{"issues.opened", "issues.reopened"}
}

// Handle issues
// See https://docs.github.com/en/webhooks/webhook-events-and-payloads#issues
func (h *IssueCloser) Handle(ctx context.Context, ev *webhook.Event) error {
	var event github.IssuesEvent
	if err := ev.Decode(&event); err != nil {
		return err
	}

	repo := event.GetRepo()
	owner := repo.GetOwner().GetLogin()
	number := event.GetIssue().GetNumber()

	logger := zerolog.Ctx(ctx).With().Str(LogKeyGitHubRepo, repo.GetFullName()).Logger()

	client, err := h.Clients.Client(ctx)
	if err != nil {
		return err
	}

	body := h.Comment
	if body == "" {
		body = DefaultCloseComment
	}
	if _, _, err := client.Issues.CreateComment(ctx, owner, repo.GetName(), number, &github.IssueComment{Body: &body}); err != nil {
		return errors.Wrapf(err, "failed to comment on issue %s/%s#%d", owner, repo.GetName(), number)
	}

	state := "closed"
	if _, _, err := client.Issues.Edit(ctx, owner, repo.GetName(), number, &github.IssueRequest{State: &state}); err != nil {
		return errors.Wrapf(err, "failed to close issue %s/%s#%d", owner, repo.GetName(), number)
	}

	logger.Info().Msgf("Closed issue #%d", number)
	return nil
}
