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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bluekeyes/hatpear"
	"github.com/google/go-github/v65/github"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/hookbot/server/apierror"
	"github.com/palantir/hookbot/token"
)

type fakeLister struct {
	installs []*github.Installation
	err      error

	page, perPage int
}

func (l *fakeLister) ListInstallations(ctx context.Context, page, perPage int) ([]*github.Installation, error) {
	l.page, l.perPage = page, perPage
	return l.installs, l.err
}

func serveInstallations(l InstallationLister, target string) (*httptest.ResponseRecorder, error) {
	var handlerErr error
	h := hatpear.Catch(func(w http.ResponseWriter, r *http.Request, err error) {
		handlerErr = err
		w.WriteHeader(http.StatusInternalServerError)
	})(hatpear.Try(&Installations{Lister: l}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w, handlerErr
}

func TestInstallations(t *testing.T) {
	l := &fakeLister{
		installs: []*github.Installation{
			{
				ID:                  github.Int64(1),
				Account:             &github.User{Login: github.String("acme")},
				TargetType:          github.String("Organization"),
				RepositorySelection: github.String("selected"),
			},
			{
				ID:          github.Int64(2),
				Account:     &github.User{Login: github.String("octocat")},
				TargetType:  github.String("User"),
				SuspendedAt: &github.Timestamp{Time: time.Now()},
			},
		},
	}

	w, err := serveInstallations(l, "/api/installations?page=2&per_page=50")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, l.page)
	assert.Equal(t, 50, l.perPage)

	var summaries []InstallationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Equal(t, []InstallationSummary{
		{ID: 1, Account: "acme", TargetType: "Organization", RepositorySelection: "selected"},
		{ID: 2, Account: "octocat", TargetType: "User", Suspended: true},
	}, summaries)
}

func TestInstallationsEmpty(t *testing.T) {
	w, err := serveInstallations(&fakeLister{}, "/api/installations")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestInstallationsErrors(t *testing.T) {
	t.Run("invalidPage", func(t *testing.T) {
		w, err := serveInstallations(&fakeLister{}, "/api/installations?page=abc")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var res apierror.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Contains(t, res.Error, "page")
	})

	t.Run("negativePerPage", func(t *testing.T) {
		w, err := serveInstallations(&fakeLister{}, "/api/installations?per_page=-1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("githubRejected", func(t *testing.T) {
		l := &fakeLister{err: &token.APIError{Op: "list installations", Kind: token.KindBadCredentials, Status: http.StatusUnauthorized}}
		w, err := serveInstallations(l, "/api/installations")
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("transport", func(t *testing.T) {
		l := &fakeLister{err: errors.New("connection refused")}
		w, err := serveInstallations(l, "/api/installations")
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, err.Error(), "failed to list installations")
	})
}
