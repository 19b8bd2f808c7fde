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
	"net/http"
	"strconv"

	"github.com/palantir/go-baseapp/baseapp"
	"github.com/pkg/errors"

	"github.com/palantir/hookbot/server/apierror"
	"github.com/palantir/hookbot/token"
)

type InstallationSummary struct {
	ID                  int64  `json:"id"`
	Account             string `json:"account"`
	TargetType          string `json:"target_type"`
	RepositorySelection string `json:"repository_selection"`
	Suspended           bool   `json:"suspended"`
}

// Installations lists the installations of the app.
type Installations struct {
	Lister InstallationLister
}

func (h *Installations) ServeHTTP(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	page, err := intParam(r, "page")
	if err != nil {
		return apierror.WriteAPIError(w, http.StatusBadRequest, err.Error())
	}
	perPage, err := intParam(r, "per_page")
	if err != nil {
		return apierror.WriteAPIError(w, http.StatusBadRequest, err.Error())
	}

	installs, err := h.Lister.ListInstallations(ctx, page, perPage)
	if err != nil {
		var apiErr *token.APIError
		if errors.As(err, &apiErr) {
			return apierror.WriteAPIError(w, http.StatusBadGateway, "GitHub rejected the request", apiErr.Error())
		}
		return errors.Wrap(err, "failed to list installations")
	}

	summaries := make([]InstallationSummary, 0, len(installs))
	for _, i := range installs {
		summaries = append(summaries, InstallationSummary{
			ID:                  i.GetID(),
			Account:             i.GetAccount().GetLogin(),
			TargetType:          i.GetTargetType(),
			RepositorySelection: i.GetRepositorySelection(),
			Suspended:           i.SuspendedAt != nil,
		})
	}

	baseapp.WriteJSON(w, http.StatusOK, summaries)
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid value for %s: %q", name, v)
	}
	return n, nil
}
