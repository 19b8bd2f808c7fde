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
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v65/github"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palantir/hookbot/webhook"
)

const testWebhookSecret = "app-test-secret"

var (
	keyOnce sync.Once
	keyPEM  []byte
)

func testPrivateKey(t *testing.T) string {
	t.Helper()
	keyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
	})
	return string(keyPEM)
}

type apiCall struct {
	Method        string
	Path          string
	Authorization string
	UserAgent     string
	Body          string
}

// fakeGitHub records API calls and serves canned responses for the token
// exchange and issue endpoints.
type fakeGitHub struct {
	*httptest.Server

	tokens int32

	mu    sync.Mutex
	calls []apiCall
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	gh := &fakeGitHub{}
	mux := http.NewServeMux()

	mux.HandleFunc("/app/installations/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&gh.tokens, 1)
		gh.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"token":"ghs_install%d","expires_at":%q}`, n, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	})
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		gh.record(r)
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1,"body":"closed"}`))
		case http.MethodPatch:
			_, _ = w.Write([]byte(`{"number":1,"state":"closed"}`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		gh.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"viewer":{"login":"hookbot[bot]"}}}`))
	})

	gh.Server = httptest.NewServer(mux)
	t.Cleanup(gh.Close)
	return gh
}

func (gh *fakeGitHub) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	gh.mu.Lock()
	defer gh.mu.Unlock()
	gh.calls = append(gh.calls, apiCall{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		UserAgent:     r.Header.Get("User-Agent"),
		Body:          string(body),
	})
}

func (gh *fakeGitHub) Calls() []apiCall {
	gh.mu.Lock()
	defer gh.mu.Unlock()
	return append([]apiCall(nil), gh.calls...)
}

func newTestApp(t *testing.T, gh *fakeGitHub, opts ...Option) *App {
	t.Helper()

	app, err := New(Config{
		AppID:         1234,
		PrivateKey:    testPrivateKey(t),
		WebhookSecret: testWebhookSecret,
		BaseURL:       gh.URL,
	}, opts...)
	require.NoError(t, err)
	return app
}

func deliver(t *testing.T, h http.Handler, event string, payload interface{}, secret string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, DefaultWebhookRoute, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.EventHeader, event)
	req.Header.Set(webhook.DeliveryHeader, "f8a8c5b0-0000-4000-8000-000000000001")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign256(body, []byte(secret)))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func issuesPayload(action string, installationID int64) map[string]interface{} {
	p := map[string]interface{}{
		"action": action,
		"issue":  map[string]interface{}{"number": 1},
		"repository": map[string]interface{}{
			"name":  "hello-world",
			"owner": map[string]interface{}{"login": "octocat"},
		},
	}
	if installationID > 0 {
		p["installation"] = map[string]interface{}{"id": installationID}
	}
	return p
}

func TestAppCommentAndClose(t *testing.T) {
	gh := newFakeGitHub(t)
	registry := metrics.NewRegistry()
	app := newTestApp(t, gh, WithRegistry(registry), WithClientUserAgent("hookbot-test/1.0"))

	app.On("issues.opened", func(ctx context.Context, ev *webhook.Event) error {
		var issue github.IssuesEvent
		if err := ev.Decode(&issue); err != nil {
			return err
		}

		client, err := app.Client(ctx)
		if err != nil {
			return err
		}

		owner := issue.GetRepo().GetOwner().GetLogin()
		repo := issue.GetRepo().GetName()
		number := issue.GetIssue().GetNumber()

		comment := "Closing automatically."
		if _, _, err := client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &comment}); err != nil {
			return err
		}
		state := "closed"
		_, _, err = client.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{State: &state})
		return err
	})

	w := deliver(t, app, "issues", issuesPayload("opened", 42), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res webhook.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, webhook.StatusHandled, res.Status)
	require.Len(t, res.Calls, 1)
	assert.Empty(t, res.Calls[0].Error)

	calls := gh.Calls()
	require.Len(t, calls, 3)

	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "/app/installations/42/access_tokens", calls[0].Path)

	assert.Equal(t, http.MethodPost, calls[1].Method)
	assert.Equal(t, "/repos/octocat/hello-world/issues/1/comments", calls[1].Path)
	assert.Equal(t, "token ghs_install1", calls[1].Authorization)
	assert.Equal(t, "hookbot-test/1.0 (installation: 42)", calls[1].UserAgent)
	assert.JSONEq(t, `{"body":"Closing automatically."}`, calls[1].Body)

	assert.Equal(t, http.MethodPatch, calls[2].Method)
	assert.Equal(t, "/repos/octocat/hello-world/issues/1", calls[2].Path)
	assert.Equal(t, "token ghs_install1", calls[2].Authorization, "token must be reused")
	assert.JSONEq(t, `{"state":"closed"}`, calls[2].Body)
}

func TestAppClientExchangesWithRequestContext(t *testing.T) {
	gh := newFakeGitHub(t)
	app := newTestApp(t, gh)

	client, err := app.ClientForInstallation(42)
	require.NoError(t, err)

	var out bytes.Buffer
	ctx := zerolog.New(&out).WithContext(context.Background())

	state := "closed"
	_, _, err = client.Issues.Edit(ctx, "octocat", "hello-world", 1, &github.IssueRequest{State: &state})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Created installation access token", "token exchange must log with the caller's logger")
	assert.Contains(t, out.String(), `"github_installation_id":42`)

	calls := gh.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/app/installations/42/access_tokens", calls[0].Path)
	assert.Equal(t, "token ghs_install1", calls[1].Authorization)
}

func TestAppRejectsInvalidSignature(t *testing.T) {
	gh := newFakeGitHub(t)
	app := newTestApp(t, gh)

	var called int32
	app.On("issues", func(ctx context.Context, ev *webhook.Event) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	w := deliver(t, app, "issues", issuesPayload("opened", 42), "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
	assert.Empty(t, gh.Calls())
}

func TestAppContext(t *testing.T) {
	gh := newFakeGitHub(t)
	app := newTestApp(t, gh)

	_, err := app.Payload(context.Background())
	assert.Equal(t, webhook.ErrNoActiveDispatch, err)

	_, err = app.Client(context.Background())
	assert.Equal(t, webhook.ErrNoActiveDispatch, err)

	var payloadErr, tokenErr error
	var action string
	app.On("issues.closed", func(ctx context.Context, ev *webhook.Event) error {
		p, err := app.Payload(ctx)
		if err == nil {
			action = p.Action
		}
		payloadErr = err
		_, tokenErr = app.InstallationToken(ctx)
		return nil
	})

	w := deliver(t, app, "issues", issuesPayload("closed", 0), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code)

	assert.NoError(t, payloadErr)
	assert.Equal(t, "closed", action)
	assert.Equal(t, ErrNoInstallation, tokenErr)
	assert.Empty(t, gh.Calls())
}

func TestAppV4Client(t *testing.T) {
	gh := newFakeGitHub(t)
	app := newTestApp(t, gh)

	app.On("issues", func(ctx context.Context, ev *webhook.Event) error {
		client, err := app.V4Client(ctx)
		if err != nil {
			return err
		}
		var q struct {
			Viewer struct {
				Login string
			}
		}
		if err := client.Query(ctx, &q, nil); err != nil {
			return err
		}
		if q.Viewer.Login != "hookbot[bot]" {
			return fmt.Errorf("unexpected viewer %q", q.Viewer.Login)
		}
		return nil
	})

	w := deliver(t, app, "issues", issuesPayload("opened", 7), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var res webhook.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Calls, 1)
	assert.Empty(t, res.Calls[0].Error)

	calls := gh.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/graphql", calls[1].Path)
	assert.Equal(t, "token ghs_install1", calls[1].Authorization)
}

func TestAppRegistration(t *testing.T) {
	gh := newFakeGitHub(t)
	app := newTestApp(t, gh)

	fn := func(ctx context.Context, ev *webhook.Event) error { return nil }
	returned := app.On("push", fn)
	assert.NotNil(t, returned)

	assert.Panics(t, func() { app.On("push.a.b", fn) })
	assert.Error(t, app.Register("", "empty", webhook.HandlerFunc(fn)))

	done := app.OnAsync("installation", func(ctx context.Context, ev *webhook.Event) <-chan error { return nil })
	assert.NotNil(t, done)

	assert.Equal(t, []string{"installation", "push"}, app.Router().Keys())
	assert.Equal(t, DefaultWebhookRoute, app.Route())
}

func TestNewInvalidConfig(t *testing.T) {
	_, err := New(Config{AppID: 1, WebhookSecret: "s"})
	assert.Error(t, err)

	_, err = New(Config{AppID: 1, PrivateKey: "not a key", WebhookSecret: "s"})
	assert.Error(t, err)
}
