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

package jwt

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudward/auth"
	"github.com/cloudward/auth/crypt"
)

// Credentials use a self-signed JWT directly as the bearer token. No token
// endpoint is involved; the signed assertion is the credential.
//
// If an audience is set the credentials behave like any other refreshable
// credential: the minted token is cached until it expires. If no audience is
// set, a brand-new one-time token is minted for every request with the
// request URI (query string and fragment stripped) as the audience; in that
// mode the cached token state is never populated, since each call's audience
// differs.
type Credentials struct {
	auth.TokenState

	signer           crypt.Signer
	issuer           string
	subject          string
	audience         string
	additionalClaims map[string]interface{}
	tokenLifetime    time.Duration
}

// Options configure [NewCredentials]. Signer and Issuer are required.
type Options struct {
	// Signer signs the minted tokens.
	Signer crypt.Signer
	// Issuer is the "iss" claim.
	Issuer string
	// Subject is the "sub" claim. Defaults to Issuer.
	Subject string
	// Audience is the "aud" claim. If empty, a one-time token is minted per
	// request with the request URI as the audience.
	Audience string
	// AdditionalClaims are merged into the claim set of every minted token.
	AdditionalClaims map[string]interface{}
	// TokenLifetime is how long minted tokens are valid for. Defaults to one
	// hour.
	TokenLifetime time.Duration
}

// NewCredentials returns credentials that mint self-signed JWTs.
func NewCredentials(opts *Options) (*Credentials, error) {
	if opts == nil || opts.Signer == nil {
		return nil, errors.New("jwt: signer is required")
	}
	if opts.Issuer == "" {
		return nil, errors.New("jwt: issuer is required")
	}
	lifetime := opts.TokenLifetime
	if lifetime == 0 {
		lifetime = defaultTokenLifetime
	}
	claims := make(map[string]interface{}, len(opts.AdditionalClaims))
	for k, v := range opts.AdditionalClaims {
		claims[k] = v
	}
	return &Credentials{
		signer:           opts.Signer,
		issuer:           opts.Issuer,
		subject:          opts.Subject,
		audience:         opts.Audience,
		additionalClaims: claims,
		tokenLifetime:    lifetime,
	}, nil
}

// WithClaims returns a copy of the credentials with additionalClaims merged
// over the receiver's claim set. The receiver is not mutated.
func (c *Credentials) WithClaims(additionalClaims map[string]interface{}) *Credentials {
	merged := make(map[string]interface{}, len(c.additionalClaims)+len(additionalClaims))
	for k, v := range c.additionalClaims {
		merged[k] = v
	}
	for k, v := range additionalClaims {
		merged[k] = v
	}
	cp := c.copy()
	cp.additionalClaims = merged
	return cp
}

// WithSubject returns a copy of the credentials with the given "sub" claim.
func (c *Credentials) WithSubject(subject string) *Credentials {
	cp := c.copy()
	cp.subject = subject
	return cp
}

// WithAudience returns a copy of the credentials with the given "aud" claim.
func (c *Credentials) WithAudience(audience string) *Credentials {
	cp := c.copy()
	cp.audience = audience
	return cp
}

// copy duplicates the identity material but not the token state.
func (c *Credentials) copy() *Credentials {
	return &Credentials{
		signer:           c.signer,
		issuer:           c.issuer,
		subject:          c.subject,
		audience:         c.audience,
		additionalClaims: c.additionalClaims,
		tokenLifetime:    c.tokenLifetime,
	}
}

func (c *Credentials) makeJWT(audience string) (string, time.Time, error) {
	now := timeNow()
	expiry := now.Add(c.tokenLifetime)

	subject := c.subject
	if subject == "" {
		subject = c.issuer
	}
	if audience == "" {
		audience = c.audience
	}
	claims := map[string]interface{}{
		"iss": c.issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
		"aud": audience,
	}
	for k, v := range c.additionalClaims {
		claims[k] = v
	}
	token, err := Encode(c.signer, claims, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiry, nil
}

// makeOneTimeJWT mints a token whose audience is the request URI with the
// query string and fragment stripped.
func (c *Credentials) makeOneTimeJWT(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	token, _, err := c.makeJWT(u.String())
	return token, err
}

// Refresh mints a fresh self-signed token with the configured audience.
func (c *Credentials) Refresh(ctx context.Context) error {
	token, expiry, err := c.makeJWT("")
	if err != nil {
		return err
	}
	c.SetToken(token, expiry)
	return nil
}

// BeforeRequest stamps the Authorization header onto headers. With a fixed
// audience it refreshes the cached token if necessary; without one it mints
// a one-time token for this request and leaves the cached state untouched.
func (c *Credentials) BeforeRequest(ctx context.Context, method, url string, headers http.Header) error {
	if c.audience == "" {
		token, err := c.makeOneTimeJWT(url)
		if err != nil {
			return err
		}
		auth.ApplyToken(headers, token)
		return nil
	}
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	c.Apply(headers)
	return nil
}

// SignBytes signs the given message with the credentials' key.
func (c *Credentials) SignBytes(message []byte) ([]byte, error) {
	return c.signer.Sign(message)
}
