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

// Package metadata queries the instance metadata service for ambient
// credentials and identity.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudward/auth"
	"github.com/cloudward/auth/internal"
	"github.com/googleapis/gax-go/v2/internallog"
)

const (
	// metadataIP is the documented metadata server IP address.
	metadataIP = "169.254.169.254"

	// metadataHostEnv is the environment variable specifying the metadata
	// server host, for testing or for bypassing DNS.
	metadataHostEnv = "GCE_METADATA_HOST"

	flavorHeader = "Metadata-Flavor"
	flavorValue  = "Google"

	pingTimeout = 3 * time.Second
	maxGetTries = 3
)

// for testing
var timeNow = time.Now

// Client queries the metadata service.
type Client struct {
	hc     *http.Client
	logger *slog.Logger
}

// Options configure [NewClient]. Both fields are optional.
type Options struct {
	// Client used for requests. If nil, a shared default client is used.
	Client *http.Client
	// Logger for debug logging.
	Logger *slog.Logger
}

// NewClient returns a metadata service client.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	hc := opts.Client
	if hc == nil {
		hc = internal.CloneDefaultClient()
	}
	return &Client{hc: hc, logger: internallog.New(opts.Logger)}
}

func rootURL() string {
	host := os.Getenv(metadataHostEnv)
	if host == "" {
		host = metadataIP
	}
	return "http://" + host + "/computeMetadata/v1/"
}

// Ping checks whether the metadata service is reachable. Network errors are
// reported as false, never propagated; the request is bounded by a short
// timeout and is never retried.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rootURL(), nil)
	if err != nil {
		return false
	}
	req.Header.Set(flavorHeader, flavorValue)
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "metadata ping failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Get fetches path relative to the metadata root. JSON responses are
// decoded into generic values; anything else is returned as a raw string.
// A non-2xx response produces an [*auth.TransportError] carrying the body.
func (c *Client) Get(ctx context.Context, path string) (interface{}, error) {
	body, contentType, err := c.doGet(ctx, path)
	if err != nil {
		return nil, err
	}
	if strings.Contains(contentType, "application/json") {
		var v interface{}
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("metadata: invalid JSON from metadata service: %w", err)
		}
		return v, nil
	}
	return string(body), nil
}

// doGet performs the request, retrying transport-level failures with
// bounded exponential backoff. Status failures are never retried.
func (c *Client) doGet(ctx context.Context, path string) (body []byte, contentType string, err error) {
	u := rootURL() + strings.TrimPrefix(path, "/")

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set(flavorHeader, flavorValue)
		c.logger.DebugContext(ctx, "metadata request", "request", internallog.HTTPRequest(req, nil))
		r, err := c.hc.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		resp, body = r, b
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxGetTries-1), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, "", &auth.TransportError{Err: err}
	}
	c.logger.DebugContext(ctx, "metadata response", "response", internallog.HTTPResponse(resp, body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &auth.TransportError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// ProjectID returns the instance's project id.
func (c *Client) ProjectID(ctx context.Context) (string, error) {
	v, err := c.Get(ctx, "project/project-id")
	if err != nil {
		return "", err
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("metadata: unexpected project id payload %T", v)
	}
	return id, nil
}

// ServiceAccountInfo describes a service account attached to the instance.
type ServiceAccountInfo struct {
	Email   string   `json:"email"`
	Scopes  []string `json:"scopes"`
	Aliases []string `json:"aliases"`
}

// ServiceAccountInfo fetches the metadata subtree of the named service
// account in one recursive request. serviceAccount may be "default".
func (c *Client) ServiceAccountInfo(ctx context.Context, serviceAccount string) (*ServiceAccountInfo, error) {
	if serviceAccount == "" {
		serviceAccount = "default"
	}
	body, _, err := c.doGet(ctx, fmt.Sprintf("instance/service-accounts/%s/?recursive=true", serviceAccount))
	if err != nil {
		return nil, err
	}
	var info ServiceAccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("metadata: invalid service account info: %w", err)
	}
	return &info, nil
}

// ServiceAccountToken fetches a short-lived access token for the named
// service account. The expiry is computed from the response's expires_in.
func (c *Client) ServiceAccountToken(ctx context.Context, serviceAccount string) (token string, expiry time.Time, err error) {
	if serviceAccount == "" {
		serviceAccount = "default"
	}
	body, _, err := c.doGet(ctx, fmt.Sprintf("instance/service-accounts/%s/token", serviceAccount))
	if err != nil {
		return "", time.Time{}, err
	}
	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", time.Time{}, fmt.Errorf("metadata: invalid token JSON from metadata service: %w", err)
	}
	if res.AccessToken == "" || res.ExpiresIn == 0 {
		return "", time.Time{}, errors.New("metadata: incomplete token received from metadata service")
	}
	return res.AccessToken, timeNow().Add(time.Duration(res.ExpiresIn) * time.Second), nil
}
