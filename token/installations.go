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
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/google/go-querystring/query"
	"github.com/pkg/errors"
)

const maxPerPage = 100

// ListOptions selects a page of installations.
type ListOptions struct {
	Page    int `url:"page,omitempty"`
	PerPage int `url:"per_page,omitempty"`
}

// ListInstallations returns one page of the installations of the app.
func (e *Exchanger) ListInstallations(ctx context.Context, opts ListOptions) ([]*github.Installation, error) {
	const op = "list installations"

	params, err := query.Values(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode list options")
	}

	u := e.baseURL + "/app/installations"
	if q := params.Encode(); q != "" {
		u += "?" + q
	}

	res, err := e.doApp(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}

	b, err := readResponse(op, res)
	if err != nil {
		return nil, err
	}

	var installs []*github.Installation
	if err := json.Unmarshal(b, &installs); err != nil {
		return nil, errors.Wrapf(err, "%s: invalid response body", op)
	}
	return installs, nil
}

// ListAllInstallations pages through every installation of the app.
func (e *Exchanger) ListAllInstallations(ctx context.Context) ([]*github.Installation, error) {
	opts := ListOptions{Page: 1, PerPage: maxPerPage}

	var all []*github.Installation
	for {
		installs, err := e.ListInstallations(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, installs...)

		if len(installs) < opts.PerPage {
			return all, nil
		}
		opts.Page++
	}
}
