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

package oauth2

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudward/auth"
	"github.com/cloudward/auth/crypt"
	"github.com/cloudward/auth/jwt"
)

const defaultAssertionLifetime = time.Hour

// ServiceAccountCredentials implement the JWT Profile for OAuth 2.0
// Authorization Grants: a self-signed assertion is exchanged at the token
// endpoint for an access token, and that access token is used as the bearer
// token.
//
// This differs from [github.com/cloudward/auth/jwt.Credentials], which uses
// the signed JWT itself as the bearer token and never contacts a token
// endpoint.
//
// Service account credentials require scopes before they can obtain an
// access token; use WithScopes to produce a scoped copy. For domain-wide
// delegation, WithSubject returns a copy that asserts the identity of the
// given user.
type ServiceAccountCredentials struct {
	auth.TokenState

	signer           crypt.Signer
	email            string
	tokenURI         string
	scopes           []string
	subject          string
	additionalClaims map[string]interface{}
	client           *Client
}

// ServiceAccountOptions configure [NewServiceAccountCredentials].
type ServiceAccountOptions struct {
	// Signer signs the assertion. Required.
	Signer crypt.Signer
	// Email is the service account's email, used as the "iss" claim.
	// Required.
	Email string
	// TokenURI is the token endpoint the assertion is sent to, and its "aud"
	// claim. Required.
	TokenURI string
	// Scopes to request. May be set later with WithScopes.
	Scopes []string
	// Subject is the email of a user to impersonate under domain-wide
	// delegation. Optional.
	Subject string
	// AdditionalClaims are merged into the assertion's claim set. Optional.
	AdditionalClaims map[string]interface{}
	// Client used for token endpoint requests. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

// NewServiceAccountCredentials returns credentials that obtain tokens via
// the JWT-bearer assertion grant.
func NewServiceAccountCredentials(opts *ServiceAccountOptions) (*ServiceAccountCredentials, error) {
	if opts == nil || opts.Signer == nil {
		return nil, errors.New("oauth2: signer is required")
	}
	if opts.Email == "" {
		return nil, errors.New("oauth2: service account email is required")
	}
	if opts.TokenURI == "" {
		return nil, errors.New("oauth2: token URI is required")
	}
	claims := make(map[string]interface{}, len(opts.AdditionalClaims))
	for k, v := range opts.AdditionalClaims {
		claims[k] = v
	}
	return &ServiceAccountCredentials{
		signer:           opts.Signer,
		email:            opts.Email,
		tokenURI:         opts.TokenURI,
		scopes:           append([]string(nil), opts.Scopes...),
		subject:          opts.Subject,
		additionalClaims: claims,
		client:           &Client{HTTPClient: opts.Client, Logger: opts.Logger},
	}, nil
}

// RequiresScopes reports whether the credentials still need scopes before
// they can obtain an access token.
func (c *ServiceAccountCredentials) RequiresScopes() bool { return len(c.scopes) == 0 }

// WithScopes returns a copy of the credentials with the given scopes. The
// receiver is not mutated.
func (c *ServiceAccountCredentials) WithScopes(scopes []string) (auth.Credentials, error) {
	cp := c.copy()
	cp.scopes = append([]string(nil), scopes...)
	return cp, nil
}

// HasScopes reports whether the credentials hold all the given scopes.
func (c *ServiceAccountCredentials) HasScopes(scopes []string) bool {
	return hasScopes(c.scopes, scopes)
}

// WithSubject returns a copy of the credentials asserting the identity of
// subject for domain-wide delegation.
func (c *ServiceAccountCredentials) WithSubject(subject string) *ServiceAccountCredentials {
	cp := c.copy()
	cp.subject = subject
	return cp
}

func (c *ServiceAccountCredentials) copy() *ServiceAccountCredentials {
	return &ServiceAccountCredentials{
		signer:           c.signer,
		email:            c.email,
		tokenURI:         c.tokenURI,
		scopes:           c.scopes,
		subject:          c.subject,
		additionalClaims: c.additionalClaims,
		client:           c.client,
	}
}

// makeAssertion creates the signed grant assertion. The issuer must be the
// service account email and the audience must be the token endpoint.
func (c *ServiceAccountCredentials) makeAssertion() (string, error) {
	now := timeNow()
	claims := map[string]interface{}{
		"iat":   now.Unix(),
		"exp":   now.Add(defaultAssertionLifetime).Unix(),
		"iss":   c.email,
		"aud":   c.tokenURI,
		"scope": strings.Join(c.scopes, " "),
	}
	if c.subject != "" {
		claims["sub"] = c.subject
	}
	for k, v := range c.additionalClaims {
		claims[k] = v
	}
	return jwt.Encode(c.signer, claims, nil)
}

// Refresh exchanges a fresh assertion for an access token.
func (c *ServiceAccountCredentials) Refresh(ctx context.Context) error {
	assertion, err := c.makeAssertion()
	if err != nil {
		return err
	}
	tr, err := c.client.JWTGrant(ctx, c.tokenURI, assertion)
	if err != nil {
		return err
	}
	c.SetToken(tr.AccessToken, tr.Expiry)
	return nil
}

// BeforeRequest refreshes the credentials if necessary and stamps the
// Authorization header onto headers.
func (c *ServiceAccountCredentials) BeforeRequest(ctx context.Context, method, url string, headers http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	c.Apply(headers)
	return nil
}

// SignBytes signs the given message with the service account's key.
func (c *ServiceAccountCredentials) SignBytes(message []byte) ([]byte, error) {
	return c.signer.Sign(message)
}
