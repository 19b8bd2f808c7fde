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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a failed GitHub API response.
type Kind int

const (
	KindUnexpected Kind = iota
	KindUnauthorized
	KindBadCredentials
	KindUnknownObject
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindBadCredentials:
		return "bad credentials"
	case KindUnknownObject:
		return "unknown object"
	case KindValidation:
		return "validation failed"
	}
	return "unexpected response"
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindBadCredentials
	case http.StatusNotFound:
		return KindUnknownObject
	case http.StatusUnprocessableEntity:
		return KindValidation
	}
	return KindUnexpected
}

// APIError is returned when GitHub responds to an app request with a non-2xx
// status.
type APIError struct {
	Op               string
	Kind             Kind
	Status           int
	Message          string
	DocumentationURL string

	// Data is the decoded response body, or nil if it was not a JSON object.
	Data map[string]interface{}
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: %s (%d): %s", e.Op, e.Kind, e.Status, msg)
}

func newAPIError(op string, status int, body []byte) *APIError {
	apiErr := &APIError{
		Op:     op,
		Kind:   kindForStatus(status),
		Status: status,
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err == nil && data != nil {
		apiErr.Data = data
		if msg, ok := data["message"].(string); ok {
			apiErr.Message = msg
		}
		if doc, ok := data["documentation_url"].(string); ok {
			apiErr.DocumentationURL = doc
		}
	}
	return apiErr
}

// IsKind returns true if err is or wraps an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
