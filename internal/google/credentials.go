package google

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultCredentialFiles are the client descriptor locations probed in
// order when none are configured.
var DefaultCredentialFiles = []string{"credentials_web.json", "credentials.json"}

var (
	// ErrNoCredentials is returned when none of the descriptor files exist.
	ErrNoCredentials = errors.New("no OAuth client credentials file found")

	// ErrInvalidCredentials is returned when a descriptor cannot be parsed.
	ErrInvalidCredentials = errors.New("invalid OAuth client credentials")
)

// ConfigLoader builds an OAuth client configuration bound to redirectURI.
type ConfigLoader func(redirectURI string) (*oauth2.Config, error)

// FileConfigLoader returns a ConfigLoader reading the first existing file of
// paths. Both "web" and "installed" descriptors are accepted. The file is
// read on every call so a rotated secret is picked up without a restart.
func FileConfigLoader(scopes []string, paths ...string) ConfigLoader {
	if len(paths) == 0 {
		paths = DefaultCredentialFiles
	}

	return func(redirectURI string) (*oauth2.Config, error) {
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return ConfigFromJSON(data, redirectURI, scopes...)
		}
		return nil, fmt.Errorf("%w (looked for %v); download an OAuth client from the Google Cloud Console", ErrNoCredentials, paths)
	}
}

// ConfigFromJSON parses a client descriptor and overrides its redirect URI.
func ConfigFromJSON(data []byte, redirectURI string, scopes ...string) (*oauth2.Config, error) {
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	cfg.RedirectURL = redirectURI
	return cfg, nil
}
