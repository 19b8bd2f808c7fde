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
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrNoActiveDispatch is returned when event accessors are used outside of a
// handler invocation. It always indicates a bug in the calling code.
var ErrNoActiveDispatch = errors.New("no active webhook dispatch: the event is only available while handlers run")

type scopeKey struct{}

type scope struct {
	event    *Event
	released atomic.Bool
}

// Bind returns a context that exposes ev to EventFromContext until the
// returned release function is called. The router binds every event it
// dispatches; Bind is exported for code that invokes handlers directly, such
// as tests.
func Bind(ctx context.Context, ev *Event) (context.Context, func()) {
	s := &scope{event: ev}
	return context.WithValue(ctx, scopeKey{}, s), func() { s.released.Store(true) }
}

// EventFromContext returns the event being dispatched. It returns
// ErrNoActiveDispatch if the context was not created by a dispatch or if the
// dispatch has already finished.
func EventFromContext(ctx context.Context) (*Event, error) {
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok || s == nil || s.released.Load() {
		return nil, ErrNoActiveDispatch
	}
	return s.event, nil
}

// MustEventFromContext is like EventFromContext but panics on misuse.
func MustEventFromContext(ctx context.Context) *Event {
	ev, err := EventFromContext(ctx)
	if err != nil {
		panic(err.Error())
	}
	return ev
}
