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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudward/auth/crypt"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
)

type testKey struct {
	key    *rsa.PrivateKey
	signer crypt.Signer
	public []byte
}

func newTestKey(t *testing.T, keyID string) *testKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := crypt.NewSigner(privPEM, keyID)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return &testKey{key: key, signer: signer, public: pubPEM}
}

func baseClaims(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"iss": "issuer@example.com",
		"sub": "issuer@example.com",
		"aud": "https://service.example.com",
		"iat": float64(now.Unix()),
		"exp": float64(now.Add(time.Hour).Unix()),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tk := newTestKey(t, "kid-1")
	now := time.Now()
	claims := baseClaims(now)

	token, err := Encode(tk.signer, claims, nil)
	if err != nil {
		t.Fatal(err)
	}

	header, err := DecodeHeader(token)
	if err != nil {
		t.Fatal(err)
	}
	wantHeader := map[string]interface{}{"typ": "JWT", "alg": "RS256", "kid": "kid-1"}
	if diff := cmp.Diff(wantHeader, header); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	got, err := Decode(token, &VerifyOptions{Cert: tk.public, Audience: "https://service.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(claims, got); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}

	unverified, err := DecodeUnverified(token)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(claims, unverified); diff != "" {
		t.Errorf("unverified claims mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeKeyIDOptions(t *testing.T) {
	tk := newTestKey(t, "kid-1")
	claims := baseClaims(time.Now())

	tests := []struct {
		name    string
		opts    *EncodeOptions
		wantKid interface{}
	}{
		{"signer kid", nil, "kid-1"},
		{"override", &EncodeOptions{KeyID: "other"}, "other"},
		{"omitted", &EncodeOptions{OmitKeyID: true}, nil},
		{"extra header kept", &EncodeOptions{Header: map[string]interface{}{"x5u": "https://example.com/cert"}}, "kid-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Encode(tk.signer, claims, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			header, err := DecodeHeader(token)
			if err != nil {
				t.Fatal(err)
			}
			if got := header["kid"]; got != tt.wantKid {
				t.Errorf("kid = %v, want %v", got, tt.wantKid)
			}
			if tt.opts != nil && tt.opts.Header != nil {
				if got := header["x5u"]; got != "https://example.com/cert" {
					t.Errorf("x5u = %v, want the extra header preserved", got)
				}
			}
		})
	}
}

func TestDecodeVerificationFailures(t *testing.T) {
	tk := newTestKey(t, "kid-1")
	other := newTestKey(t, "kid-2")
	now := time.Now()

	encode := func(t *testing.T, mutate func(claims map[string]interface{})) string {
		t.Helper()
		claims := baseClaims(now)
		if mutate != nil {
			mutate(claims)
		}
		token, err := Encode(tk.signer, claims, nil)
		if err != nil {
			t.Fatal(err)
		}
		return token
	}

	tests := []struct {
		name      string
		token     func(t *testing.T) string
		opts      *VerifyOptions
		wantCheck string
	}{
		{
			name:      "wrong key",
			token:     func(t *testing.T) string { return encode(t, nil) },
			opts:      &VerifyOptions{Cert: other.public},
			wantCheck: "signature",
		},
		{
			name: "tampered payload",
			token: func(t *testing.T) string {
				good := strings.Split(encode(t, nil), ".")
				evil := strings.Split(encode(t, func(c map[string]interface{}) { c["sub"] = "attacker@example.com" }), ".")
				// Tampered claims under the good signature.
				return good[0] + "." + evil[1] + "." + good[2]
			},
			opts:      &VerifyOptions{Cert: tk.public},
			wantCheck: "signature",
		},
		{
			name:      "missing iat",
			token:     func(t *testing.T) string { return encode(t, func(c map[string]interface{}) { delete(c, "iat") }) },
			opts:      &VerifyOptions{Cert: tk.public},
			wantCheck: "iat",
		},
		{
			name:      "missing exp",
			token:     func(t *testing.T) string { return encode(t, func(c map[string]interface{}) { delete(c, "exp") }) },
			opts:      &VerifyOptions{Cert: tk.public},
			wantCheck: "exp",
		},
		{
			name: "used too early",
			token: func(t *testing.T) string {
				return encode(t, func(c map[string]interface{}) {
					c["iat"] = float64(now.Add(ClockSkew + time.Hour).Unix())
				})
			},
			opts:      &VerifyOptions{Cert: tk.public},
			wantCheck: "iat",
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return encode(t, func(c map[string]interface{}) {
					c["iat"] = float64(now.Add(-2 * time.Hour).Unix())
					c["exp"] = float64(now.Add(-ClockSkew - time.Hour).Unix())
				})
			},
			opts:      &VerifyOptions{Cert: tk.public},
			wantCheck: "exp",
		},
		{
			name:      "audience mismatch",
			token:     func(t *testing.T) string { return encode(t, nil) },
			opts:      &VerifyOptions{Cert: tk.public, Audience: "https://other.example.com"},
			wantCheck: "aud",
		},
		{
			name:      "kid not in cert map",
			token:     func(t *testing.T) string { return encode(t, nil) },
			opts:      &VerifyOptions{Certs: map[string][]byte{"kid-2": other.public}},
			wantCheck: "kid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token(t), tt.opts)
			var verr *VerificationError
			if !errors.As(err, &verr) {
				t.Fatalf("Decode() = %v, want a VerificationError", err)
			}
			if verr.Check != tt.wantCheck {
				t.Errorf("failed check = %q, want %q", verr.Check, tt.wantCheck)
			}
		})
	}
}

func TestDecodeWithinClockSkew(t *testing.T) {
	tk := newTestKey(t, "")
	now := time.Now()

	// iat slightly in the future and exp slightly in the past, both inside
	// the allowed skew.
	claims := baseClaims(now)
	claims["iat"] = float64(now.Add(ClockSkew / 2).Unix())
	claims["exp"] = float64(now.Add(-ClockSkew / 2).Unix())
	token, err := Encode(tk.signer, claims, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(token, &VerifyOptions{Cert: tk.public}); err != nil {
		t.Errorf("Decode() = %v, want success within clock skew", err)
	}
}

func TestDecodeCertMap(t *testing.T) {
	tk1 := newTestKey(t, "kid-1")
	tk2 := newTestKey(t, "kid-2")
	certs := map[string][]byte{"kid-1": tk1.public, "kid-2": tk2.public}

	token, err := Encode(tk2.signer, baseClaims(time.Now()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(token, &VerifyOptions{Certs: certs}); err != nil {
		t.Errorf("Decode() = %v, want kid-selected cert to verify", err)
	}

	// Without a kid header every cert in the map is tried.
	anon, err := Encode(tk2.signer, baseClaims(time.Now()), &EncodeOptions{OmitKeyID: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(anon, &VerifyOptions{Certs: certs}); err != nil {
		t.Errorf("Decode() = %v, want all certs tried when kid is absent", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two segments", "aaaa.bbbb"},
		{"four segments", "aaaa.bbbb.cccc.dddd"},
		{"bad base64", "!!!.!!!.!!!"},
		{"not json", "aGVsbG8.aGVsbG8.aGVsbG8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.token, nil)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Errorf("Decode() = %v, want a ParseError", err)
			}
		})
	}
}

// TestInteropWithGolangJWT verifies our encoded tokens against an independent
// JWT implementation.
func TestInteropWithGolangJWT(t *testing.T) {
	tk := newTestKey(t, "kid-1")
	claims := baseClaims(time.Now())
	token, err := Encode(tk.signer, claims, nil)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := gojwt.Parse(token, func(tok *gojwt.Token) (interface{}, error) {
		return &tk.key.PublicKey, nil
	}, gojwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("independent parser rejected our token: %v", err)
	}
	mc, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		t.Fatalf("unexpected claims type %T", parsed.Claims)
	}
	if got, want := mc["iss"], "issuer@example.com"; got != want {
		t.Errorf("iss = %v, want %v", got, want)
	}
}
