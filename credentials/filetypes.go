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

package credentials

import (
	"fmt"

	"github.com/cloudward/auth"
	"github.com/cloudward/auth/crypt"
	"github.com/cloudward/auth/internal/credsfile"
	"github.com/cloudward/auth/jwt"
	"github.com/cloudward/auth/oauth2"
)

// googleOAuth2TokenEndpoint is the token endpoint used for authorized-user
// files, which do not name one themselves.
const googleOAuth2TokenEndpoint = "https://accounts.google.com/o/oauth2/token"

// InvalidCredentialTypeError reports a credentials file whose "type" field
// names no supported credential kind.
type InvalidCredentialTypeError struct {
	Type string
}

func (e *InvalidCredentialTypeError) Error() string {
	return fmt.Sprintf("credentials: unsupported credential type %q, expected \"authorized_user\" or \"service_account\"", e.Type)
}

// fileCredentials parses a credentials file payload, dispatching on its
// "type" field, and returns the credentials plus the project id the file
// carries, if any.
func fileCredentials(b []byte, opts *DetectOptions) (auth.Credentials, string, error) {
	fileType, rawType, err := credsfile.ParseFileType(b)
	if err != nil {
		return nil, "", err
	}
	switch fileType {
	case credsfile.UserCredentialsKey:
		f, err := credsfile.ParseUserCredentials(b)
		if err != nil {
			return nil, "", err
		}
		creds, err := oauth2.NewUserCredentials(&oauth2.UserCredentialsOptions{
			RefreshToken: f.RefreshToken,
			TokenURI:     googleOAuth2TokenEndpoint,
			ClientID:     f.ClientID,
			ClientSecret: f.ClientSecret,
			Client:       opts.Client,
			Logger:       opts.Logger,
		})
		if err != nil {
			return nil, "", err
		}
		// Authorized user files carry no project id.
		return creds, "", nil
	case credsfile.ServiceAccountKey:
		f, err := credsfile.ParseServiceAccount(b)
		if err != nil {
			return nil, "", err
		}
		signer, err := crypt.NewSigner([]byte(f.PrivateKey), f.PrivateKeyID)
		if err != nil {
			return nil, "", err
		}
		creds, err := jwt.NewCredentials(&jwt.Options{
			Signer:  signer,
			Issuer:  f.ClientEmail,
			Subject: f.ClientEmail,
		})
		if err != nil {
			return nil, "", err
		}
		return creds, f.ProjectID, nil
	default:
		return nil, "", &InvalidCredentialTypeError{Type: rawType}
	}
}
