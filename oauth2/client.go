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

// Package oauth2 implements a client for an OAuth 2.0 authorization server's
// token endpoint, and credential types built on its grant flows.
//
// For more information about the token endpoint, see
// https://tools.ietf.org/html/rfc6749#section-3.2
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudward/auth"
	"github.com/cloudward/auth/internal"
	"github.com/googleapis/gax-go/v2/internallog"
)

const (
	jwtGrantType     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	refreshGrantType = "refresh_token"
)

// for testing
var timeNow = time.Now

// TokenResponse is the parsed body of a successful token endpoint response.
type TokenResponse struct {
	// AccessToken is the granted bearer token.
	AccessToken string
	// RefreshToken is the refresh token to use for the next refresh. For the
	// refresh-token grant this is the caller's original token unless the
	// server rotated it.
	RefreshToken string
	// Expiry is when AccessToken expires, or the zero time if the endpoint
	// did not report an expires_in.
	Expiry time.Time
	// Raw is the full decoded response body.
	Raw map[string]interface{}
}

// Client calls a token endpoint. The zero value is usable; both fields are
// optional.
type Client struct {
	// HTTPClient used for requests. If nil, a shared default client is used.
	HTTPClient *http.Client
	// Logger for debug logging of requests and responses.
	Logger *slog.Logger
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTPClient != nil {
		return c.HTTPClient
	}
	return internal.CloneDefaultClient()
}

func (c *Client) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return internallog.New(c.Logger)
	}
	return internallog.New(nil)
}

// JWTGrant implements the JWT Profile for OAuth 2.0 Authorization Grants,
// exchanging a signed assertion for an access token.
//
// For more details, see https://tools.ietf.org/html/rfc7523#section-4
func (c *Client) JWTGrant(ctx context.Context, tokenURI, assertion string) (*TokenResponse, error) {
	body := url.Values{}
	body.Set("assertion", assertion)
	body.Set("grant_type", jwtGrantType)

	data, err := c.tokenEndpointRequest(ctx, tokenURI, body)
	if err != nil {
		return nil, err
	}
	accessToken, _ := data["access_token"].(string)
	return &TokenResponse{
		AccessToken: accessToken,
		Expiry:      parseExpiry(data),
		Raw:         data,
	}, nil
}

// RefreshGrant implements the OAuth 2.0 refresh token grant. If the response
// omits a new refresh token the returned TokenResponse retains refreshToken
// unchanged; servers may rotate it silently, so callers must persist the
// returned value.
//
// For more details, see https://tools.ietf.org/html/rfc6749#section-6
func (c *Client) RefreshGrant(ctx context.Context, tokenURI, refreshToken, clientID, clientSecret string) (*TokenResponse, error) {
	body := url.Values{}
	body.Set("grant_type", refreshGrantType)
	body.Set("client_id", clientID)
	body.Set("client_secret", clientSecret)
	body.Set("refresh_token", refreshToken)

	data, err := c.tokenEndpointRequest(ctx, tokenURI, body)
	if err != nil {
		return nil, err
	}
	accessToken, _ := data["access_token"].(string)
	if rt, ok := data["refresh_token"].(string); ok && rt != "" {
		refreshToken = rt
	}
	return &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Expiry:       parseExpiry(data),
		Raw:          data,
	}, nil
}

func (c *Client) tokenEndpointRequest(ctx context.Context, tokenURI string, body url.Values) (map[string]interface{}, error) {
	logger := c.logger()
	encoded := body.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	logger.DebugContext(ctx, "token endpoint request", "request", internallog.HTTPRequest(req, []byte(encoded)))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &auth.TransportError{Err: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &auth.TransportError{Err: err}
	}
	logger.DebugContext(ctx, "token endpoint response", "response", internallog.HTTPResponse(resp, respBody))

	if resp.StatusCode != http.StatusOK {
		return nil, refreshErrorFromResponse(respBody)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, fmt.Errorf("oauth2: cannot parse token response: %w", err)
	}
	return data, nil
}

// refreshErrorFromResponse extracts "{error}: {error_description}" from an
// error response body, falling back to the raw body when it is not a JSON
// OAuth error.
func refreshErrorFromResponse(body []byte) *auth.RefreshError {
	var errData struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &errData); err == nil && errData.Error != "" {
		return &auth.RefreshError{Code: errData.Error, Description: errData.ErrorDescription, Body: body}
	}
	return &auth.RefreshError{Body: body}
}

func parseExpiry(data map[string]interface{}) time.Time {
	if secs, ok := data["expires_in"].(float64); ok && secs > 0 {
		return timeNow().Add(time.Duration(secs) * time.Second)
	}
	return time.Time{}
}
