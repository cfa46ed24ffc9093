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

// Package credsfile parses on-disk JSON credential files.
package credsfile

import (
	"encoding/json"
)

// CredentialType is the type of credential a file holds, as declared by its
// "type" field.
type CredentialType int

const (
	// UnknownCredType indicates a file whose "type" field is missing or not
	// recognized.
	UnknownCredType CredentialType = iota
	// UserCredentialsKey is a stored authorized-user credentials file.
	UserCredentialsKey
	// ServiceAccountKey is a service account key file.
	ServiceAccountKey
)

// ServiceAccountFile is the unmarshalled representation of a service account
// key file.
type ServiceAccountFile struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURL     string `json:"token_uri"`
}

// UserCredentialsFile is the unmarshalled representation of a stored
// authorized-user credentials file.
type UserCredentialsFile struct {
	Type         string `json:"type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// ParseServiceAccount parses bytes into a [ServiceAccountFile].
func ParseServiceAccount(b []byte) (*ServiceAccountFile, error) {
	var f *ServiceAccountFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// ParseUserCredentials parses bytes into a [UserCredentialsFile].
func ParseUserCredentials(b []byte) (*UserCredentialsFile, error) {
	var f *UserCredentialsFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return f, nil
}

type fileTypeChecker struct {
	Type string `json:"type"`
}

// ParseFileType determines the [CredentialType] based on the bytes provided
// and returns the raw value of the "type" field alongside it. Only returns an
// error for malformed JSON.
func ParseFileType(b []byte) (CredentialType, string, error) {
	var f fileTypeChecker
	if err := json.Unmarshal(b, &f); err != nil {
		return 0, "", err
	}
	return parseCredentialType(f.Type), f.Type, nil
}

func parseCredentialType(typeString string) CredentialType {
	switch typeString {
	case "service_account":
		return ServiceAccountKey
	case "authorized_user":
		return UserCredentialsKey
	default:
		return UnknownCredType
	}
}
