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

// Package auth provides the shared contract implemented by every credential
// type in this module.
//
// All credentials carry a bearer token and an optional expiry. Most
// credentials are invalid until [Credentials.Refresh] is called; they do this
// automatically before the first HTTP request in [Credentials.BeforeRequest].
// Although the token and expiry change as credentials are refreshed, the
// identity material a credential is constructed with is immutable. Credential
// types that support modified copies expose pure constructors such as
// WithScopes or WithSubject which never mutate the receiver.
//
// A single credential instance is not safe for concurrent use unless the
// caller supplies its own mutual exclusion; Refresh is a blocking network
// operation that mutates the token state.
package auth

import (
	"context"
	"net/http"
	"time"
)

// TokenTypeBearer is the auth header prefix for bearer tokens.
const TokenTypeBearer = "Bearer"

// for testing
var timeNow = time.Now

// Credentials is implemented by all credential types. Callers generally only
// ever use this shared contract; the concrete type behind it is chosen by
// construction or by [github.com/cloudward/auth/credentials.Default].
type Credentials interface {
	// Refresh obtains a new token, leaving the credentials valid on success.
	// On failure the token state is left as it was.
	Refresh(ctx context.Context) error
	// BeforeRequest performs credential-specific logic before a request is
	// sent: refreshing the token if necessary and stamping the Authorization
	// header onto headers.
	BeforeRequest(ctx context.Context, method, url string, headers http.Header) error
	// Valid reports whether the credentials have a token that has not
	// expired.
	Valid() bool
	// Expired reports whether the token's expiry has passed. Credentials
	// with no expiry never expire.
	Expired() bool
	// Token returns the current bearer token, or "" before the first
	// successful refresh.
	Token() string
	// Expiry returns the token's expiry. The zero time means the token does
	// not expire.
	Expiry() time.Time
}

// ScopedCredentials is the capability interface for credentials that limit
// access with OAuth 2.0 scopes.
//
// Some credentials have scopes but do not allow them to be changed after
// construction; their WithScopes returns [ErrScopesUnsupported]. Use
// RequiresScopes to check whether scoping is necessary before a credential
// can mint usable tokens.
type ScopedCredentials interface {
	// RequiresScopes reports whether scopes must be set before the
	// credentials can obtain an access token.
	RequiresScopes() bool
	// WithScopes returns a copy of the credentials with the given scopes, or
	// [ErrScopesUnsupported] if the credential type's scopes are fixed.
	WithScopes(scopes []string) (Credentials, error)
	// HasScopes reports whether the credentials hold all the given scopes.
	// The result is only meaningful once the credentials are valid.
	HasScopes(scopes []string) bool
}

// SigningCredentials is the capability interface for credentials that can
// cryptographically sign arbitrary messages.
type SigningCredentials interface {
	SignBytes(message []byte) ([]byte, error)
}

// TokenState holds the bearer token and expiry shared by all credential
// types. It is embedded by credential implementations; only Refresh
// implementations should call [TokenState.SetToken].
type TokenState struct {
	token  string
	expiry time.Time
}

// Token returns the current bearer token.
func (s *TokenState) Token() string { return s.token }

// Expiry returns the current token's expiry, or the zero time if the token
// does not expire.
func (s *TokenState) Expiry() time.Time { return s.expiry }

// Expired reports whether the expiry has passed. A token with no expiry is
// never expired.
func (s *TokenState) Expired() bool {
	if s.expiry.IsZero() {
		return false
	}
	return !s.expiry.After(timeNow())
}

// Valid reports whether there is a token and it has not expired.
func (s *TokenState) Valid() bool {
	return s.token != "" && !s.Expired()
}

// SetToken records a token and its expiry. A zero expiry means the token
// does not expire. Intended for use by Refresh implementations.
func (s *TokenState) SetToken(token string, expiry time.Time) {
	s.token = token
	s.expiry = expiry
}

// Apply stamps the current token onto the Authorization header of h.
func (s *TokenState) Apply(h http.Header) {
	ApplyToken(h, s.token)
}

// ApplyToken stamps token onto the Authorization header of h. Header
// comparison at the HTTP layer is case-insensitive, so the canonicalized
// form written here matches any casing a server checks for.
func ApplyToken(h http.Header, token string) {
	h.Set("Authorization", TokenTypeBearer+" "+token)
}
