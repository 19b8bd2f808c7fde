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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/google/go-github/v65/github"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	EventHeader    = github.EventTypeHeader
	DeliveryHeader = github.DeliveryIDHeader

	// MaxPayloadSize matches the largest payload GitHub will deliver.
	MaxPayloadSize = 25 << 20
)

// Event is a single webhook delivery. It exposes the fields needed for
// routing and authentication; handlers that need more can use Payload, Get,
// or Decode the raw body into a typed struct from go-github.
type Event struct {
	Name           string
	Action         string
	DeliveryID     string
	InstallationID int64
	Signature      string

	Raw     []byte
	Payload map[string]interface{}
}

// NewEvent builds an Event from a JSON payload. The payload must be a JSON
// object.
func NewEvent(name, deliveryID string, raw []byte) (*Event, error) {
	if name == "" {
		return nil, errors.New("missing event type")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Wrap(err, "payload is not a JSON object")
	}
	if payload == nil {
		return nil, errors.New("payload is not a JSON object")
	}

	var fields struct {
		Action       interface{} `json:"action"`
		Installation *struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to parse payload fields")
	}

	ev := &Event{
		Name:       name,
		DeliveryID: deliveryID,
		Raw:        raw,
		Payload:    payload,
	}
	if action, ok := fields.Action.(string); ok {
		ev.Action = action
	}
	if fields.Installation != nil {
		ev.InstallationID = fields.Installation.ID
	}
	return ev, nil
}

// Key returns the most specific routing key for the event.
func (e *Event) Key() string {
	if e.Action == "" {
		return e.Name
	}
	return e.Name + "." + e.Action
}

// Decode unmarshals the raw payload into v, usually one of the go-github
// event types.
func (e *Event) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(e.Raw, v), "failed to decode %s payload", e.Name)
}

// Get walks the payload along path and returns the value found, if any.
func (e *Event) Get(path ...string) (interface{}, bool) {
	var cur interface{} = e.Payload
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString is like Get but only returns string values.
func (e *Event) GetString(path ...string) (string, bool) {
	v, ok := e.Get(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (e *Event) String() string {
	return fmt.Sprintf("%s (delivery %s)", e.Key(), e.DeliveryID)
}

// ValidationError is returned when a delivery is missing required headers or
// has a body that is not a JSON object.
type ValidationError struct {
	EventType  string
	DeliveryID string
	Cause      error
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %v", ve.Cause)
}

// VerificationError is returned when a delivery fails signature
// verification.
type VerificationError struct {
	EventType  string
	DeliveryID string
	Cause      error
}

func (ve VerificationError) Error() string {
	return fmt.Sprintf("rejected event: %v", ve.Cause)
}

// DeliveryID returns the delivery header of the request or a generated ID if
// GitHub did not send one.
func DeliveryID(r *http.Request) string {
	if id := github.DeliveryID(r); id != "" {
		return id
	}
	return uuid.NewString()
}

// ParseRequest reads, verifies, and parses a webhook delivery. The signature
// is checked before anything else about the request. Errors are always
// either a ValidationError or a VerificationError.
func ParseRequest(r *http.Request, deliveryID string, v *Verifier) (*Event, error) {
	eventType := github.WebHookType(r)

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, MaxPayloadSize))
	if err != nil {
		return nil, ValidationError{EventType: eventType, DeliveryID: deliveryID, Cause: errors.Wrap(err, "failed to read body")}
	}

	if err := v.VerifyRequest(r.Header, body); err != nil {
		return nil, VerificationError{EventType: eventType, DeliveryID: deliveryID, Cause: err}
	}

	if eventType == "" {
		return nil, ValidationError{DeliveryID: deliveryID, Cause: errors.New("missing event type")}
	}

	raw, err := extractPayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, ValidationError{EventType: eventType, DeliveryID: deliveryID, Cause: err}
	}

	ev, err := NewEvent(eventType, deliveryID, raw)
	if err != nil {
		return nil, ValidationError{EventType: eventType, DeliveryID: deliveryID, Cause: err}
	}
	ev.Signature = r.Header.Get(SignatureHeader)
	if ev.Signature == "" {
		ev.Signature = r.Header.Get(LegacySignatureHeader)
	}
	return ev, nil
}

// extractPayload returns the JSON payload of a verified body. Media type
// parameters such as charset are ignored.
func extractPayload(contentType string, body []byte) ([]byte, error) {
	if contentType == "" {
		return nil, errors.New("missing content type")
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errors.Wrap(err, "invalid content type")
	}

	payload, err := github.ValidatePayloadFromBody(mediaType, bytes.NewReader(body), "", nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to extract payload")
	}
	if len(payload) == 0 {
		return nil, errors.New("body has no payload")
	}
	return payload, nil
}
