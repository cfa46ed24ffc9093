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

// Package credentials discovers ambient credentials for the current
// environment.
//
// [Default] looks for credentials in the following places, preferring the
// first found:
//
//   - A JSON file whose path is set in the GOOGLE_APPLICATION_CREDENTIALS
//     environment variable.
//   - A JSON file in a location known to the gcloud command-line tool:
//     %APPDATA%/gcloud/application_default_credentials.json on Windows,
//     $HOME/.config/gcloud/application_default_credentials.json elsewhere.
//   - The instance metadata service, when running on a supported hosted
//     environment.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cloudward/auth"
	"github.com/cloudward/auth/metadata"
	"gopkg.in/ini.v1"
)

const (
	// credentialsEnv names an explicit credentials file.
	credentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"
	// projectEnv names an explicit project id, overriding whatever a matched
	// credential source carries.
	projectEnv = "GCLOUD_PROJECT"
	// cloudSDKConfigEnv overrides the gcloud config directory location.
	cloudSDKConfigEnv = "CLOUDSDK_CONFIG"

	cloudSDKConfigDir       = "gcloud"
	cloudSDKCredentialsFile = "application_default_credentials.json"

	cloudSDKProjectSection = "core"
	cloudSDKProjectKey     = "project"
)

// ErrNoCredentials is returned by [Default] when no credential source could
// be discovered.
var ErrNoCredentials = errors.New("credentials: could not automatically determine credentials, set " +
	credentialsEnv + " or explicitly create credentials and re-run the application")

// DefaultCredentials bundle discovered credentials with the project id of
// the source they came from. ProjectID may be empty, which indicates that it
// could not be ascertained from the environment.
type DefaultCredentials struct {
	auth.Credentials
	ProjectID string
}

// DetectOptions configure [Default]. All fields are optional.
type DetectOptions struct {
	// Client used for token and metadata requests.
	Client *http.Client
	// Logger for debug logging.
	Logger *slog.Logger
}

func (o *DetectOptions) toDetect() *DetectOptions {
	if o == nil {
		return &DetectOptions{}
	}
	return o
}

type checker func(ctx context.Context, opts *DetectOptions) (auth.Credentials, string, error)

// Default discovers credentials from the environment, trying each source in
// order and returning the first match. If a source is present but malformed
// the error surfaces immediately; if no source yields credentials, the error
// is [ErrNoCredentials]. An explicit project id set in the GCLOUD_PROJECT
// environment variable overrides the project id of whichever source matched.
func Default(ctx context.Context, opts *DetectOptions) (*DefaultCredentials, error) {
	opts = opts.toDetect()
	explicitProject := os.Getenv(projectEnv)

	checkers := []checker{
		explicitEnvCredentials,
		cloudSDKCredentials,
		appHostedCredentials,
		metadataCredentials,
	}
	for _, check := range checkers {
		creds, projectID, err := check(ctx, opts)
		if err != nil {
			return nil, err
		}
		if creds == nil {
			continue
		}
		if explicitProject != "" {
			projectID = explicitProject
		}
		return &DefaultCredentials{Credentials: creds, ProjectID: projectID}, nil
	}
	return nil, ErrNoCredentials
}

// explicitEnvCredentials loads the file named by GOOGLE_APPLICATION_CREDENTIALS.
// An unset variable means skip; a set variable that can not be loaded is an
// error, since silently falling through on a typoed path would mask
// misconfiguration.
func explicitEnvCredentials(ctx context.Context, opts *DetectOptions) (auth.Credentials, string, error) {
	filename := os.Getenv(credentialsEnv)
	if filename == "" {
		return nil, "", nil
	}
	return loadCredentialsFile(filename, opts)
}

// cloudSDKCredentials loads the credentials the gcloud tool stored with
// "gcloud auth application-default login". If the credentials file carries
// no project id, the id configured in the SDK's active configuration is
// used.
func cloudSDKCredentials(ctx context.Context, opts *DetectOptions) (auth.Credentials, string, error) {
	configPath, err := cloudSDKConfigPath()
	if err != nil {
		return nil, "", nil
	}
	credsFile := filepath.Join(configPath, cloudSDKCredentialsFile)
	if _, err := os.Stat(credsFile); err != nil {
		return nil, "", nil
	}
	creds, projectID, err := loadCredentialsFile(credsFile, opts)
	if err != nil {
		return nil, "", err
	}
	if projectID == "" {
		projectID = cloudSDKProjectID(configPath)
	}
	return creds, projectID, nil
}

func cloudSDKConfigPath() (string, error) {
	if p := os.Getenv(cloudSDKConfigEnv); p != "" {
		return p, nil
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, cloudSDKConfigDir), nil
		}
		// This should never happen unless someone is really messing with
		// things, but we'll cover the case anyway.
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return filepath.Join(drive, `\`, cloudSDKConfigDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", cloudSDKConfigDir), nil
}

// cloudSDKProjectID reads the project id out of the SDK's active
// configuration file. Any failure reading or parsing it yields "".
func cloudSDKProjectID(configPath string) string {
	configFile := filepath.Join(configPath, "configurations", "config_default")
	cfg, err := ini.Load(configFile)
	if err != nil {
		return ""
	}
	return cfg.Section(cloudSDKProjectSection).Key(cloudSDKProjectKey).String()
}

// appHostedCredentials would return the identity of an app-hosting
// environment's built-in identity service. No such runtime is supported
// here, so this step always falls through.
func appHostedCredentials(ctx context.Context, opts *DetectOptions) (auth.Credentials, string, error) {
	return nil, "", nil
}

// metadataCredentials probes the instance metadata service. The project id
// lookup is best effort: a transport error fetching it is tolerated and the
// credentials are returned without one.
func metadataCredentials(ctx context.Context, opts *DetectOptions) (auth.Credentials, string, error) {
	client := metadata.NewClient(&metadata.Options{Client: opts.Client, Logger: opts.Logger})
	if !client.Ping(ctx) {
		return nil, "", nil
	}
	projectID, err := client.ProjectID(ctx)
	if err != nil {
		var te *auth.TransportError
		if !errors.As(err, &te) {
			return nil, "", err
		}
		projectID = ""
	}
	creds := metadata.NewCredentials(&metadata.CredentialsOptions{Client: client})
	return creds, projectID, nil
}

// loadCredentialsFile reads and parses filename, returning the credentials
// it holds and the project id it carries, if any.
func loadCredentialsFile(filename string, opts *DetectOptions) (auth.Credentials, string, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, "", fmt.Errorf("credentials: cannot read %s: %w", filename, err)
	}
	creds, projectID, err := fileCredentials(b, opts)
	if err != nil {
		return nil, "", fmt.Errorf("credentials: file %s: %w", filename, err)
	}
	return creds, projectID, nil
}
