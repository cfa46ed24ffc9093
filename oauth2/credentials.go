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
	"time"

	"github.com/cloudward/auth"
)

// UserCredentials are OAuth 2.0 credentials backed by a refresh token,
// typically obtained from a stored authorized-user file. Their scopes were
// fixed when the user originally authorized the client and can not be
// changed afterwards.
type UserCredentials struct {
	auth.TokenState

	refreshToken string
	tokenURI     string
	clientID     string
	clientSecret string
	scopes       []string
	client       *Client
}

// UserCredentialsOptions configure [NewUserCredentials].
type UserCredentialsOptions struct {
	// Token is an initial access token. Optional if refresh information is
	// provided.
	Token string
	// RefreshToken enables the credentials to be refreshed.
	RefreshToken string
	// TokenURI is the authorization server's token endpoint. Required for
	// refresh.
	TokenURI string
	// ClientID is the OAuth 2.0 client id. Required for refresh.
	ClientID string
	// ClientSecret is the OAuth 2.0 client secret. Required for refresh.
	ClientSecret string
	// Scopes the authorization was originally granted with. Purely
	// informative; used by HasScopes.
	Scopes []string
	// Client used for token endpoint requests. Optional.
	Client *http.Client
	// Logger for debug logging. Optional.
	Logger *slog.Logger
}

// NewUserCredentials returns credentials that refresh through the OAuth 2.0
// refresh token grant.
func NewUserCredentials(opts *UserCredentialsOptions) (*UserCredentials, error) {
	if opts == nil {
		return nil, errors.New("oauth2: options must be provided")
	}
	if opts.Token == "" && opts.RefreshToken == "" {
		return nil, errors.New("oauth2: either a token or a refresh token is required")
	}
	c := &UserCredentials{
		refreshToken: opts.RefreshToken,
		tokenURI:     opts.TokenURI,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		scopes:       append([]string(nil), opts.Scopes...),
		client:       &Client{HTTPClient: opts.Client, Logger: opts.Logger},
	}
	if opts.Token != "" {
		c.SetToken(opts.Token, time.Time{})
	}
	return c, nil
}

// RefreshToken returns the most recent refresh token. The server may rotate
// it on any refresh, so callers persisting credentials must store this value
// rather than the one they constructed with.
func (c *UserCredentials) RefreshToken() string { return c.refreshToken }

// Refresh exchanges the refresh token for a new access token.
func (c *UserCredentials) Refresh(ctx context.Context) error {
	tr, err := c.client.RefreshGrant(ctx, c.tokenURI, c.refreshToken, c.clientID, c.clientSecret)
	if err != nil {
		return err
	}
	c.refreshToken = tr.RefreshToken
	c.SetToken(tr.AccessToken, tr.Expiry)
	return nil
}

// BeforeRequest refreshes the credentials if necessary and stamps the
// Authorization header onto headers.
func (c *UserCredentials) BeforeRequest(ctx context.Context, method, url string, headers http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	c.Apply(headers)
	return nil
}

// RequiresScopes returns false; the scopes were set when the initial token
// was requested.
func (c *UserCredentials) RequiresScopes() bool { return false }

// WithScopes returns [auth.ErrScopesUnsupported]; user credentials can not
// request additional scopes after authorization.
func (c *UserCredentials) WithScopes(scopes []string) (auth.Credentials, error) {
	return nil, auth.ErrScopesUnsupported
}

// HasScopes reports whether the credentials were authorized with all the
// given scopes.
func (c *UserCredentials) HasScopes(scopes []string) bool {
	return hasScopes(c.scopes, scopes)
}

func hasScopes(have, want []string) bool {
	held := make(map[string]bool, len(have))
	for _, s := range have {
		held[s] = true
	}
	for _, s := range want {
		if !held[s] {
			return false
		}
	}
	return true
}
