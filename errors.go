// Copyright 2026 Cloudward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"errors"
	"fmt"
)

// ErrScopesUnsupported is returned by WithScopes for credential types whose
// scopes are fixed at token-issuance time and can not be changed.
var ErrScopesUnsupported = errors.New("auth: credentials can not modify their scopes")

// RefreshError indicates that the credentials could not be refreshed: the
// token endpoint rejected the grant, or the metadata token fetch failed. It
// can hold useful additional details for debugging.
type RefreshError struct {
	// Code is the "error" field of an OAuth 2.0 error response, if one could
	// be parsed from the body.
	Code string
	// Description is the "error_description" field of an OAuth 2.0 error
	// response, if present.
	Description string
	// Body is the raw response body, if the failure came from an HTTP
	// response.
	Body []byte
	// Err is the underlying wrapped error, if any.
	Err error
}

func (e *RefreshError) Error() string {
	if e.Code != "" {
		s := fmt.Sprintf("auth: refresh failed: %q", e.Code)
		if e.Description != "" {
			s += fmt.Sprintf(": %q", e.Description)
		}
		return s
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("auth: refresh failed: %s", e.Body)
	}
	return fmt.Sprintf("auth: refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// TransportError indicates that the underlying HTTP request failed, either
// because the request itself errored or because the server returned a
// non-2xx status.
type TransportError struct {
	// StatusCode is the HTTP status of the response, or 0 if the request
	// never completed.
	StatusCode int
	// Body is the response body, if a response was received.
	Body []byte
	// Err is the underlying wrapped error, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: transport error: %v", e.Err)
	}
	return fmt.Sprintf("auth: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }
