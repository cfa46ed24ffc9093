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

package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudward/auth"
)

// fakeCredentials counts refreshes and hands out a new token each time.
type fakeCredentials struct {
	auth.TokenState
	refreshes  int
	refreshErr error
}

func (c *fakeCredentials) Refresh(ctx context.Context) error {
	if c.refreshErr != nil {
		return c.refreshErr
	}
	c.refreshes++
	c.SetToken(fmt.Sprintf("token-%d", c.refreshes), time.Time{})
	return nil
}

func (c *fakeCredentials) BeforeRequest(ctx context.Context, method, url string, headers http.Header) error {
	if !c.Valid() {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	c.Apply(headers)
	return nil
}

func TestNewClientAuthorizesRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Authorization"), "Bearer token-1"; got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	creds := &fakeCredentials{}
	client, err := NewClient(creds, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if creds.refreshes != 1 {
		t.Errorf("refreshed %d times, want 1", creds.refreshes)
	}
}

func TestRefreshAndRetryOnUnauthorized(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// The first token is stale; any later one is accepted.
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	creds := &fakeCredentials{}
	client, err := NewClient(creds, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after retry", resp.StatusCode)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2", requests)
	}
	if creds.refreshes != 2 {
		t.Errorf("refreshed %d times, want 2 (initial + retry)", creds.refreshes)
	}
}

func TestRetryExhaustionReturnsResponse(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	creds := &fakeCredentials{}
	client, err := NewClient(creds, &Options{MaxRefreshAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the final 401 returned as-is", resp.StatusCode)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2 (initial + 1 retry)", requests)
	}
}

func TestRetryRewindsBody(t *testing.T) {
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client, err := NewClient(&fakeCredentials{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Post(ts.URL, "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if len(bodies) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(bodies))
	}
	for i, b := range bodies {
		if b != "payload" {
			t.Errorf("request %d body = %q, want %q", i, b, "payload")
		}
	}
}

func TestOriginalRequestNotMutated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	client, err := NewClient(&fakeCredentials{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("original request's Authorization = %q, want it untouched", got)
	}
}

func TestRefreshErrorPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ts.Close()

	wantErr := errors.New("token endpoint down")
	client, err := NewClient(&fakeCredentials{refreshErr: wantErr}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Get(ts.URL)
	if !errors.Is(err, wantErr) {
		t.Errorf("Get() = %v, want it to wrap the refresh error", err)
	}
}

func TestCustomRefreshStatusCodes(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client, err := NewClient(&fakeCredentials{}, &Options{RefreshStatusCodes: []int{http.StatusForbidden}})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if requests != 2 {
		t.Errorf("server saw %d requests, want a retry on 403", requests)
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := NewClient(nil, nil); err == nil {
		t.Error("NewClient(nil) succeeded")
	}
}
