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
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/hookbot/server/handler"
	"github.com/palantir/hookbot/webhook"
)

const testSecret = "server-test-secret"

func testKey(t *testing.T) string {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

type recordedRequest struct {
	Method string
	Path   string
}

func newGitHub(t *testing.T) (*httptest.Server, func() []recordedRequest) {
	var mu sync.Mutex
	var requests []recordedRequest

	mux := http.NewServeMux()
	mux.HandleFunc("/app/installations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":5,"account":{"login":"octo-org"},"target_type":"Organization","repository_selection":"all"}]`))
	})
	mux.HandleFunc("/app/installations/5/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_server","expires_at":%q}`, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	})
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func newTestServer(t *testing.T, githubURL string) *Server {
	t.Helper()

	var c Config
	c.Github.V3APIURL = githubURL
	c.Github.App.IntegrationID = 1
	c.Github.App.PrivateKey = testKey(t)
	c.Github.App.WebhookSecret = testSecret
	c.App.IssueCloser.Enabled = true

	s, err := New(&c)
	require.NoError(t, err)
	return s
}

func TestServerHealth(t *testing.T) {
	gh, _ := newGitHub(t)
	s := newTestServer(t, gh.URL)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var check handler.HealthCheck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.Equal(t, "ok", check.Status)
	assert.NotEmpty(t, check.Version)
}

func TestServerInstallations(t *testing.T) {
	gh, _ := newGitHub(t)
	s := newTestServer(t, gh.URL)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/installations?per_page=10", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var installs []handler.InstallationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &installs))
	require.Len(t, installs, 1)
	assert.Equal(t, int64(5), installs[0].ID)
	assert.Equal(t, "octo-org", installs[0].Account)
}

func TestServerWebhook(t *testing.T) {
	gh, requests := newGitHub(t)
	s := newTestServer(t, gh.URL)

	assert.Equal(t, []string{"installation", "installation_repositories", "issues.opened", "issues.reopened"}, s.App().Router().Keys())

	body := []byte(`{
		"action": "reopened",
		"issue": {"number": 3},
		"repository": {"name": "spoon-knife", "full_name": "octo-org/spoon-knife", "owner": {"login": "octo-org"}},
		"installation": {"id": 5}
	}`)

	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/github/", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(webhook.EventHeader, "issues")
		req.Header.Set(webhook.SignatureHeader, signature)

		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		return w
	}

	w := send(webhook.Sign256(body, []byte("wrong")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, requests())

	w = send(webhook.Sign256(body, []byte(testSecret)))
	require.Equal(t, http.StatusOK, w.Code)

	var res webhook.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, webhook.StatusHandled, res.Status)
	require.Len(t, res.Calls, 1)
	assert.Empty(t, res.Calls[0].Error)

	assert.Equal(t, []recordedRequest{
		{Method: http.MethodPost, Path: "/repos/octo-org/spoon-knife/issues/3/comments"},
		{Method: http.MethodPatch, Path: "/repos/octo-org/spoon-knife/issues/3"},
	}, requests())
}
