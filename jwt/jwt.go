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

// Package jwt provides support for creating (encoding) and verifying
// (decoding) JSON Web Tokens, and a [Credentials] type that uses JWTs
// directly as authentication bearer tokens.
//
// See https://tools.ietf.org/html/rfc7519 for more details on JWTs.
package jwt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudward/auth/crypt"
)

const (
	// HeaderType is the "typ" value set on every encoded token.
	HeaderType = "JWT"
	// HeaderAlgRSA256 is the "alg" value set on every encoded token.
	HeaderAlgRSA256 = "RS256"

	// ClockSkew is the allowed slack when comparing a token's "iat" and
	// "exp" claims against the local clock.
	ClockSkew = 300 * time.Second

	defaultTokenLifetime = time.Hour
)

// for testing
var timeNow = time.Now

// ParseError indicates a malformed token: the wrong number of segments, or a
// segment that is not valid base64url or JSON.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("jwt: %s: %v", e.Reason, e.Err)
	}
	return "jwt: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// VerificationError indicates a well-formed token that failed verification.
// Check names the failed check: "kid", "signature", "iat", "exp" or "aud".
type VerificationError struct {
	Check  string
	Detail string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("jwt: verification failed (%s): %s", e.Check, e.Detail)
}

// EncodeOptions customize [Encode]. The zero value uses the signer's own key
// id and no extra header fields.
type EncodeOptions struct {
	// Header holds additional JWT header fields. The "typ", "alg" and "kid"
	// fields are always overwritten.
	Header map[string]interface{}
	// KeyID overrides the signer's key id.
	KeyID string
	// OmitKeyID suppresses the "kid" header entirely, even when the signer
	// has a key id.
	OmitKeyID bool
}

// Encode builds and signs a JWT carrying the given claims. The header is
// {"typ": "JWT", "alg": "RS256"} plus the signer's key id as "kid" unless
// overridden or suppressed through opts, which may be nil.
func Encode(signer crypt.Signer, claims map[string]interface{}, opts *EncodeOptions) (string, error) {
	header := map[string]interface{}{}
	if opts != nil {
		for k, v := range opts.Header {
			header[k] = v
		}
	}
	header["typ"] = HeaderType
	header["alg"] = HeaderAlgRSA256

	keyID := signer.KeyID()
	if opts != nil {
		if opts.KeyID != "" {
			keyID = opts.KeyID
		}
		if opts.OmitKeyID {
			keyID = ""
		}
	}
	if keyID != "" {
		header["kid"] = keyID
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsBytes, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	signingInput := base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(claimsBytes)
	signature, err := signer.Sign([]byte(signingInput))
	if err != nil {
		return "", err
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

type parsedToken struct {
	header map[string]interface{}
	claims map[string]interface{}
	// signedSection is the exact bytes the signature covers:
	// "<header segment>.<claims segment>" before any decoding.
	signedSection []byte
	signature     []byte
}

func decodeSegment(seg string) ([]byte, error) {
	// Accept both padded and unpadded base64url.
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}

func decodeJSONSegment(seg string) (map[string]interface{}, error) {
	b, err := decodeSegment(seg)
	if err != nil {
		return nil, &ParseError{Reason: "segment is not valid base64url", Err: err}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("can't parse segment %q", b), Err: err}
	}
	return m, nil
}

func parse(token string) (*parsedToken, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, &ParseError{Reason: fmt.Sprintf("token must have 3 segments, found %d", len(segments))}
	}
	header, err := decodeJSONSegment(segments[0])
	if err != nil {
		return nil, err
	}
	claims, err := decodeJSONSegment(segments[1])
	if err != nil {
		return nil, err
	}
	signature, err := decodeSegment(segments[2])
	if err != nil {
		return nil, &ParseError{Reason: "signature is not valid base64url", Err: err}
	}
	return &parsedToken{
		header:        header,
		claims:        claims,
		signedSection: []byte(segments[0] + "." + segments[1]),
		signature:     signature,
	}, nil
}

// DecodeHeader returns the decoded header of a token. No verification is
// done; this is useful to extract the key id from the header in order to
// acquire the appropriate certificate to verify the token.
func DecodeHeader(token string) (map[string]interface{}, error) {
	p, err := parse(token)
	if err != nil {
		return nil, err
	}
	return p.header, nil
}

// DecodeUnverified returns the decoded claims of a token without any
// signature or claim verification.
func DecodeUnverified(token string) (map[string]interface{}, error) {
	p, err := parse(token)
	if err != nil {
		return nil, err
	}
	return p.claims, nil
}

// VerifyOptions configure [Decode]. Exactly one of Cert or Certs should be
// set.
type VerifyOptions struct {
	// Cert is a single PEM-encoded certificate or public key checked against
	// the signature regardless of the token's key id.
	Cert []byte
	// Certs maps key ids to PEM-encoded certificates or public keys. If the
	// token's header carries a "kid" it must name an entry in the map; if it
	// carries none, every entry is tried.
	Certs map[string][]byte
	// Audience, if non-empty, must exactly match the token's "aud" claim.
	Audience string
}

// Decode decodes and verifies a token, returning its claims. The signature
// must validate against the certificates supplied in opts, the "iat" and
// "exp" claims must be present and hold within [ClockSkew] of the local
// clock, and the "aud" claim must match opts.Audience if one is given.
//
// Malformed tokens produce a [*ParseError]; well-formed tokens that fail a
// check produce a [*VerificationError] naming the check.
func Decode(token string, opts *VerifyOptions) (map[string]interface{}, error) {
	p, err := parse(token)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &VerifyOptions{}
	}

	var certs [][]byte
	switch {
	case len(opts.Certs) > 0:
		if keyID, ok := p.header["kid"].(string); ok && keyID != "" {
			pemBytes, ok := opts.Certs[keyID]
			if !ok {
				return nil, &VerificationError{Check: "kid", Detail: fmt.Sprintf("certificate for key id %q not found", keyID)}
			}
			certs = [][]byte{pemBytes}
		} else {
			for _, pemBytes := range opts.Certs {
				certs = append(certs, pemBytes)
			}
		}
	case len(opts.Cert) > 0:
		certs = [][]byte{opts.Cert}
	}

	if !crypt.VerifySignature(p.signedSection, p.signature, certs) {
		return nil, &VerificationError{Check: "signature", Detail: "could not verify token signature"}
	}
	if err := verifyIatAndExp(p.claims); err != nil {
		return nil, err
	}
	if opts.Audience != "" {
		claimAudience, _ := p.claims["aud"].(string)
		if claimAudience != opts.Audience {
			return nil, &VerificationError{Check: "aud", Detail: fmt.Sprintf("token has wrong audience %q, expected %q", claimAudience, opts.Audience)}
		}
	}
	return p.claims, nil
}

func verifyIatAndExp(claims map[string]interface{}) error {
	now := timeNow().Unix()
	skew := int64(ClockSkew / time.Second)

	iat, ok := claimInt64(claims, "iat")
	if !ok {
		return &VerificationError{Check: "iat", Detail: `token does not contain required claim "iat"`}
	}
	exp, ok := claimInt64(claims, "exp")
	if !ok {
		return &VerificationError{Check: "exp", Detail: `token does not contain required claim "exp"`}
	}
	if now < iat-skew {
		return &VerificationError{Check: "iat", Detail: fmt.Sprintf("token used too early, %d < %d", now, iat)}
	}
	if now > exp+skew {
		return &VerificationError{Check: "exp", Detail: fmt.Sprintf("token expired, %d < %d", exp+skew, now)}
	}
	return nil
}

// claimInt64 reads a numeric claim. JSON numbers unmarshal as float64.
func claimInt64(claims map[string]interface{}, key string) (int64, bool) {
	switch v := claims[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
