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

package metadata

import (
	"context"
	"net/http"

	"github.com/cloudward/auth"
)

// Credentials are backed by the identity attached to the instance. They hold
// no local secret; every refresh queries the metadata service for a
// short-lived token.
//
// Instances are created with scopes, so these credentials are scoped, but
// the scopes can not be changed after the instance exists: WithScopes always
// fails, and HasScopes only reports accurately once the credentials have
// been refreshed.
type Credentials struct {
	auth.TokenState

	client              *Client
	serviceAccountEmail string
	scopes              []string
}

// CredentialsOptions configure [NewCredentials]. All fields are optional.
type CredentialsOptions struct {
	// ServiceAccountEmail selects among the instance's service accounts.
	// Defaults to "default".
	ServiceAccountEmail string
	// Client used to reach the metadata service.
	Client *Client
}

// NewCredentials returns credentials backed by the instance's attached
// service account.
func NewCredentials(opts *CredentialsOptions) *Credentials {
	if opts == nil {
		opts = &CredentialsOptions{}
	}
	email := opts.ServiceAccountEmail
	if email == "" {
		email = "default"
	}
	client := opts.Client
	if client == nil {
		client = NewClient(nil)
	}
	return &Credentials{client: client, serviceAccountEmail: email}
}

// Refresh fetches a new token from the metadata service, updating the
// service account email and scopes along the way.
func (c *Credentials) Refresh(ctx context.Context) error {
	info, err := c.client.ServiceAccountInfo(ctx, c.serviceAccountEmail)
	if err != nil {
		return &auth.RefreshError{Err: err}
	}
	c.serviceAccountEmail = info.Email
	c.scopes = info.Scopes

	token, expiry, err := c.client.ServiceAccountToken(ctx, c.serviceAccountEmail)
	if err != nil {
		return &auth.RefreshError{Err: err}
	}
	c.SetToken(token, expiry)
	return nil
}

// BeforeRequest refreshes the credentials if necessary and stamps the
// Authorization header onto headers.
func (c *Credentials) BeforeRequest(ctx context.Context, method, url string, headers http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	c.Apply(headers)
	return nil
}

// ServiceAccountEmail returns the attached service account's email. Before
// the first refresh this is the configured name, usually "default".
func (c *Credentials) ServiceAccountEmail() string { return c.serviceAccountEmail }

// RequiresScopes returns false; the instance's scopes were set when it was
// created.
func (c *Credentials) RequiresScopes() bool { return false }

// WithScopes returns [auth.ErrScopesUnsupported]; scopes must be set when
// the instance is created.
func (c *Credentials) WithScopes(scopes []string) (auth.Credentials, error) {
	return nil, auth.ErrScopesUnsupported
}

// HasScopes reports whether the instance's scopes include all the given
// scopes. Not accurate until the credentials have been refreshed.
func (c *Credentials) HasScopes(scopes []string) bool {
	held := make(map[string]bool, len(c.scopes))
	for _, s := range c.scopes {
		held[s] = true
	}
	for _, s := range scopes {
		if !held[s] {
			return false
		}
	}
	return true
}
