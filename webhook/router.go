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
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/palantir/go-githubapp/githubapp"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"

	hmetrics "github.com/palantir/hookbot/metrics"
)

const (
	LogKeyEventAction = "github_event_action"
	LogKeyHandler     = "handler"
)

// Registration binds a handler to a routing key.
type Registration struct {
	Key     string
	Name    string
	Handler Handler
}

// Call records the outcome of one handler invocation.
type Call struct {
	Key     string `json:"key"`
	Handler string `json:"handler"`
	Error   string `json:"error,omitempty"`

	err error
}

// Err returns the error returned by the handler, if any.
func (c Call) Err() error {
	return c.err
}

// Result describes a completed dispatch.
type Result struct {
	Event string
	Calls []Call
}

// Handled returns true if at least one handler was invoked.
func (r Result) Handled() bool {
	return len(r.Calls) > 0
}

// Failures returns the number of handlers that returned an error or
// panicked.
func (r Result) Failures() int {
	n := 0
	for _, c := range r.Calls {
		if c.err != nil {
			n++
		}
	}
	return n
}

// Router maps "event" and "event.action" keys to ordered handler lists.
type Router struct {
	registry metrics.Registry

	mu       sync.RWMutex
	handlers map[string][]Registration
}

type RouterOption func(*Router)

// WithRouterMetrics records handler calls and errors in the registry.
func WithRouterMetrics(registry metrics.Registry) RouterOption {
	return func(r *Router) {
		r.registry = registry
	}
}

func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string][]Registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ValidateKey checks that key has the form "event" or "event.action".
func ValidateKey(key string) error {
	parts := strings.Split(key, ".")
	if len(parts) > 2 {
		return errors.Errorf("invalid handler key %q: expected \"event\" or \"event.action\"", key)
	}
	for _, p := range parts {
		if p == "" {
			return errors.Errorf("invalid handler key %q: expected \"event\" or \"event.action\"", key)
		}
	}
	return nil
}

// Register appends h to the handlers for key. Registering the same handler
// more than once causes it to run once per registration. If name is empty,
// a name is derived from the handler.
func (r *Router) Register(key, name string, h Handler) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if h == nil {
		return errors.Errorf("nil handler for key %q", key)
	}
	if name == "" {
		name = HandlerName(h)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[key] = append(r.handlers[key], Registration{Key: key, Name: name, Handler: h})
	return nil
}

// Handlers returns the registrations for key in registration order.
func (r *Router) Handlers(key string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := r.handlers[key]
	return append([]Registration(nil), regs...)
}

// Keys returns every key with at least one handler, sorted.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) match(ev *Event) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var regs []Registration
	if ev.Action != "" {
		regs = append(regs, r.handlers[ev.Name+"."+ev.Action]...)
	}
	return append(regs, r.handlers[ev.Name]...)
}

// Dispatch runs every handler matching the event: first the handlers for
// "event.action", then the handlers for "event", each in registration
// order. Handlers run one at a time and each finishes before the next
// starts. Handler errors and panics are logged and recorded in the result
// but never stop the remaining handlers.
//
// The event is bound to the context passed to handlers for the duration of
// the dispatch.
func (r *Router) Dispatch(ctx context.Context, ev *Event) Result {
	res := Result{Event: ev.Key()}

	regs := r.match(ev)
	if len(regs) == 0 {
		zerolog.Ctx(ctx).Debug().Msgf("No handlers registered for %s", ev.Key())
		return res
	}

	ctx, release := Bind(ctx, ev)
	defer release()

	for _, reg := range regs {
		err := r.invoke(ctx, reg, ev)

		call := Call{Key: reg.Key, Handler: reg.Name, err: err}
		hmetrics.HandlerCalls(r.registry, ev.Name).Inc(1)

		if err != nil {
			call.Error = err.Error()
			hmetrics.HandlerErrors(r.registry, ev.Name).Inc(1)

			zerolog.Ctx(ctx).Error().
				Err(err).
				Str(githubapp.LogKeyEventType, ev.Name).
				Str(LogKeyEventAction, ev.Action).
				Str(githubapp.LogKeyDeliveryID, ev.DeliveryID).
				Str(LogKeyHandler, reg.Name).
				Msgf("Handler for %s failed", reg.Key)
		}
		res.Calls = append(res.Calls, call)
	}
	return res
}

func (r *Router) invoke(ctx context.Context, reg Registration, ev *Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = recovered(reg, ev, v)
		}
	}()
	return reg.Handler.Handle(ctx, ev)
}
