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
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Handler processes a single webhook event. Handle must not return until
// all work for the event is complete.
type Handler interface {
	Handle(ctx context.Context, ev *Event) error
}

// HandlerFunc is a synchronous handler.
type HandlerFunc func(ctx context.Context, ev *Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev *Event) error {
	return f(ctx, ev)
}

// AsyncHandlerFunc is a handler that starts its work and reports completion
// on the returned channel. A nil channel means there is nothing to wait for.
type AsyncHandlerFunc func(ctx context.Context, ev *Event) <-chan error

// Handle starts f and waits for it to finish. If ctx is done first, the
// handler is abandoned and the context error is returned.
func (f AsyncHandlerFunc) Handle(ctx context.Context, ev *Event) error {
	done := f(ctx, ev)
	if done == nil {
		return nil
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "abandoned asynchronous handler")
	}
}

// HandlerName returns a name suitable for logs and responses.
func HandlerName(h Handler) string {
	var fn interface{}
	switch f := h.(type) {
	case HandlerFunc:
		fn = f
	case AsyncHandlerFunc:
		fn = f
	default:
		return fmt.Sprintf("%T", h)
	}

	if pc := reflect.ValueOf(fn).Pointer(); pc != 0 {
		if rf := runtime.FuncForPC(pc); rf != nil {
			name := rf.Name()
			return name[strings.LastIndex(name, "/")+1:]
		}
	}
	return fmt.Sprintf("%T", h)
}

// HandlerPanicError records a handler that panicked while handling an
// event. The router returns it wrapped with the stack of the panic.
type HandlerPanicError struct {
	Key     string
	Handler string
	Event   string
	Value   interface{}
}

func (e HandlerPanicError) Error() string {
	v := e.Value
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	return fmt.Sprintf("handler %s for %s panicked on %s: %v", e.Handler, e.Key, e.Event, v)
}

func recovered(reg Registration, ev *Event, v interface{}) error {
	return errors.WithStack(HandlerPanicError{
		Key:     reg.Key,
		Handler: reg.Name,
		Event:   ev.String(),
		Value:   v,
	})
}
