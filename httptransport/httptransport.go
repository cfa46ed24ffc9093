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

// Package httptransport provides an authorized [net/http.Client] that stamps
// credentials onto outgoing requests and transparently retries on
// authorization failures.
package httptransport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudward/auth"
	"github.com/googleapis/gax-go/v2/internallog"
)

// DefaultMaxRefreshAttempts is how many times a request is retried with
// freshly refreshed credentials before its response is returned as-is.
const DefaultMaxRefreshAttempts = 2

// DefaultRefreshStatusCodes are the response status codes that trigger a
// credential refresh and retry.
var DefaultRefreshStatusCodes = []int{http.StatusUnauthorized}

// Options configure [NewClient]. All fields are optional.
type Options struct {
	// BaseRoundTripper performs the authorized requests. Defaults to a clone
	// of the default transport.
	BaseRoundTripper http.RoundTripper
	// RefreshStatusCodes trigger a refresh-and-retry. Defaults to
	// [DefaultRefreshStatusCodes].
	RefreshStatusCodes []int
	// MaxRefreshAttempts bounds the refresh-and-retry loop. Defaults to
	// [DefaultMaxRefreshAttempts].
	MaxRefreshAttempts int
	// Logger for debug logging.
	Logger *slog.Logger
}

// NewClient returns an [*http.Client] whose requests carry the given
// credentials. Before each request the credentials are applied (refreshing
// first if they are missing or expired); if the response comes back with a
// refresh status code, the credentials are refreshed and the request retried,
// up to MaxRefreshAttempts times. The final response is returned unchanged
// when retries are exhausted.
func NewClient(creds auth.Credentials, opts *Options) (*http.Client, error) {
	if creds == nil {
		return nil, errors.New("httptransport: credentials are required")
	}
	if opts == nil {
		opts = &Options{}
	}
	base := opts.BaseRoundTripper
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	codes := opts.RefreshStatusCodes
	if codes == nil {
		codes = DefaultRefreshStatusCodes
	}
	attempts := opts.MaxRefreshAttempts
	if attempts == 0 {
		attempts = DefaultMaxRefreshAttempts
	}
	return &http.Client{
		Transport: &authTransport{
			creds:              creds,
			base:               base,
			refreshStatusCodes: codes,
			maxRefreshAttempts: attempts,
			logger:             internallog.New(opts.Logger),
		},
	}, nil
}

type authTransport struct {
	creds              auth.Credentials
	base               http.RoundTripper
	refreshStatusCodes []int
	maxRefreshAttempts int
	logger             *slog.Logger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.roundTrip(req, 0)
}

// roundTrip sends a decorated clone of req, never mutating the original.
// attempt is per-call state, so concurrent use of the transport is safe.
func (t *authTransport) roundTrip(req *http.Request, attempt int) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if attempt > 0 && req.Body != nil {
		if req.GetBody == nil {
			return nil, errors.New("httptransport: cannot retry request whose body is not rewindable")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	if err := t.creds.BeforeRequest(clone.Context(), clone.Method, clone.URL.String(), clone.Header); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(clone)
	if err != nil {
		return nil, err
	}
	if !t.shouldRefresh(resp.StatusCode) || attempt >= t.maxRefreshAttempts {
		return resp, nil
	}

	t.logger.DebugContext(req.Context(), "refreshing credentials after auth failure",
		"status", resp.StatusCode, "attempt", attempt+1)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err := t.creds.Refresh(req.Context()); err != nil {
		return nil, err
	}
	return t.roundTrip(req, attempt+1)
}

func (t *authTransport) shouldRefresh(status int) bool {
	for _, code := range t.refreshStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}
