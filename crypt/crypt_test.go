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

package crypt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func pkcs1PEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func pkcs8PEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	b, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b})
}

func publicPEM(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	b, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: b})
}

func TestParseKey(t *testing.T) {
	key := generateKey(t)
	tests := []struct {
		name string
		pem  []byte
	}{
		{"pkcs1", pkcs1PEM(key)},
		{"pkcs8", pkcs8PEM(t, key)},
		{"bare pkcs1 der", x509.MarshalPKCS1PrivateKey(key)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseKey(tt.pem)
			if err != nil {
				t.Fatalf("ParseKey() = %v", err)
			}
			if parsed.N.Cmp(key.N) != 0 {
				t.Error("ParseKey() returned a different key")
			}
		})
	}
}

func TestParseKeyErrors(t *testing.T) {
	if _, err := ParseKey([]byte("not a key")); err == nil {
		t.Error("ParseKey() succeeded on garbage input")
	}
	if _, err := ParseKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("bogus")})); err == nil {
		t.Error("ParseKey() succeeded on a PEM block with bogus DER")
	}
}

func TestSignAndVerify(t *testing.T) {
	key := generateKey(t)
	signer, err := NewSigner(pkcs1PEM(key), "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := signer.KeyID(), "key-1"; got != want {
		t.Errorf("KeyID() = %q, want %q", got, want)
	}

	msg := []byte("the quick brown fox")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatal(err)
	}

	pub := publicPEM(t, key)
	if !VerifySignature(msg, sig, [][]byte{pub}) {
		t.Error("VerifySignature() = false for a valid signature")
	}
	if VerifySignature([]byte("tampered"), sig, [][]byte{pub}) {
		t.Error("VerifySignature() = true for a tampered message")
	}

	otherPub := publicPEM(t, generateKey(t))
	if VerifySignature(msg, sig, [][]byte{otherPub}) {
		t.Error("VerifySignature() = true under the wrong key")
	}
	// Unparsable candidates are skipped, not fatal.
	if !VerifySignature(msg, sig, [][]byte{[]byte("junk"), pub}) {
		t.Error("VerifySignature() = false when a valid key follows an unparsable one")
	}
	if VerifySignature(msg, sig, nil) {
		t.Error("VerifySignature() = true with no keys")
	}
}
