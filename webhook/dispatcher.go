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

package webhook

import (
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/palantir/go-baseapp/baseapp"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"

	hmetrics "github.com/palantir/hookbot/metrics"
)

const (
	StatusHandled = "handled"
	StatusIgnored = "ignored"
)

// ErrorCallback is called when a delivery cannot be dispatched.
type ErrorCallback func(w http.ResponseWriter, r *http.Request, err error)

// ResponseCallback is called to acknowledge a delivery after all handlers
// have finished.
type ResponseCallback func(w http.ResponseWriter, r *http.Request, res Result)

// DispatcherOption configures properties of a dispatcher.
type DispatcherOption func(*dispatcher)

// WithErrorCallback sets the error callback for a dispatcher.
func WithErrorCallback(onError ErrorCallback) DispatcherOption {
	return func(d *dispatcher) {
		if onError != nil {
			d.onError = onError
		}
	}
}

// WithResponseCallback sets the response callback for a dispatcher.
func WithResponseCallback(onResponse ResponseCallback) DispatcherOption {
	return func(d *dispatcher) {
		if onResponse != nil {
			d.onResponse = onResponse
		}
	}
}

// WithDispatcherMetrics records delivery counts in the registry.
func WithDispatcherMetrics(registry metrics.Registry) DispatcherOption {
	return func(d *dispatcher) {
		d.registry = registry
	}
}

type dispatcher struct {
	router   *Router
	verifier *Verifier
	registry metrics.Registry

	onError    ErrorCallback
	onResponse ResponseCallback
}

// NewDispatcher returns an http.Handler that verifies webhook deliveries and
// dispatches them to the router. Handler failures never change the
// response: GitHub receives an acknowledgement once all handlers finish.
func NewDispatcher(router *Router, verifier *Verifier, opts ...DispatcherOption) http.Handler {
	d := &dispatcher{
		router:     router,
		verifier:   verifier,
		onError:    DefaultErrorCallback,
		onResponse: DefaultResponseCallback,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deliveryID := DeliveryID(r)
	logger := zerolog.Ctx(ctx).With().
		Str(githubapp.LogKeyEventType, github.WebHookType(r)).
		Str(githubapp.LogKeyDeliveryID, deliveryID).
		Logger()

	ctx = logger.WithContext(ctx)
	r = r.WithContext(ctx)

	ev, err := ParseRequest(r, deliveryID, d.verifier)
	if err != nil {
		var verr VerificationError
		if errors.As(err, &verr) {
			hmetrics.Rejected(d.registry).Inc(1)
		} else {
			hmetrics.Invalid(d.registry).Inc(1)
		}
		d.onError(w, r, err)
		return
	}

	if ev.InstallationID > 0 {
		logger = logger.With().Int64(githubapp.LogKeyInstallationID, ev.InstallationID).Logger()
	}
	if ev.Action != "" {
		logger = logger.With().Str(LogKeyEventAction, ev.Action).Logger()
	}
	ctx = logger.WithContext(ctx)
	r = r.WithContext(ctx)

	logger.Info().Msg("Received webhook event")
	hmetrics.Deliveries(d.registry, ev.Name).Inc(1)

	res := d.router.Dispatch(ctx, ev)
	if n := res.Failures(); n > 0 {
		logger.Warn().Msgf("%d of %d handlers failed for %s", n, len(res.Calls), res.Event)
	}

	d.onResponse(w, r, res)
}

// DefaultErrorCallback logs errors and responds with an appropriate status
// code: 401 for failed verification and 400 for invalid deliveries.
func DefaultErrorCallback(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var verr VerificationError
	if errors.As(err, &verr) {
		logger.Warn().
			Err(verr.Cause).
			Str("remote_addr", r.RemoteAddr).
			Msg("Rejected webhook with missing or invalid signature")
		http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
		return
	}

	var ve ValidationError
	if errors.As(err, &ve) {
		logger.Warn().Err(ve.Cause).Msg("Received invalid webhook headers or payload")
		http.Error(w, "Invalid webhook headers or payload", http.StatusBadRequest)
		return
	}

	logger.Error().Err(err).Msg("Unexpected error handling webhook")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Response is the body written by DefaultResponseCallback.
type Response struct {
	Status string `json:"status"`
	Event  string `json:"event"`
	Calls  []Call `json:"calls"`
}

// DefaultResponseCallback responds with 200 OK and a summary of the handlers
// that ran, including ones that failed.
func DefaultResponseCallback(w http.ResponseWriter, r *http.Request, res Result) {
	body := Response{
		Status: StatusIgnored,
		Event:  res.Event,
		Calls:  res.Calls,
	}
	if res.Handled() {
		body.Status = StatusHandled
	}
	if body.Calls == nil {
		body.Calls = []Call{}
	}
	baseapp.WriteJSON(w, http.StatusOK, body)
}
