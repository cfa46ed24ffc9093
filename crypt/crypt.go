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

// Package crypt provides the message signing and signature verification
// capabilities consumed by the rest of the module. The only algorithm
// implemented is RSA with SHA-256, which is what the "RS256" JWT algorithm
// requires.
package crypt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Signer signs messages with a private key and optionally carries the id of
// that key for use as a JWT "kid" header.
type Signer interface {
	// Sign returns the signature of message.
	Sign(message []byte) ([]byte, error)
	// KeyID returns the id of the signing key, or "" if the key has no id.
	KeyID() string
}

// NewSigner parses a PEM-encoded private key and returns a [Signer] that
// signs with it under SHA-256. keyID may be empty.
func NewSigner(privateKeyPEM []byte, keyID string) (Signer, error) {
	key, err := ParseKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &rsaSigner{key: key, keyID: keyID}, nil
}

type rsaSigner struct {
	key   *rsa.PrivateKey
	keyID string
}

func (s *rsaSigner) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
}

func (s *rsaSigner) KeyID() string { return s.keyID }

// ParseKey converts the binary contents of a private key file to an
// *rsa.PrivateKey. It detects whether the private key is in a PEM container
// or plain PKCS#1 or PKCS#8 DER.
func ParseKey(key []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(key)
	if block != nil {
		key = block.Bytes
	}
	parsedKey, err := x509.ParsePKCS8PrivateKey(key)
	if err != nil {
		parsedKey, err = x509.ParsePKCS1PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("crypt: private key should be a PEM or plain PKCS#1 or PKCS#8: %w", err)
		}
	}
	parsed, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("crypt: private key is not an RSA key")
	}
	return parsed, nil
}

// VerifySignature reports whether signature is a valid SHA-256 RSA signature
// of message under at least one of the given PEM-encoded certificates or
// public keys. Unparsable candidates are skipped.
func VerifySignature(message, signature []byte, certs [][]byte) bool {
	digest := sha256.Sum256(message)
	for _, c := range certs {
		pub, err := parsePublicKey(c)
		if err != nil {
			continue
		}
		if rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature) == nil {
			return true
		}
	}
	return false
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("crypt: no PEM data found")
	}
	if block.Type == "CERTIFICATE" {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("crypt: certificate does not hold an RSA public key")
		}
		return pub, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("crypt: public key is not an RSA key")
	}
	return pub, nil
}
