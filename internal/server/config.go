package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultAddr is the listen address of the API server.
	DefaultAddr = ":5001"

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultMaxBodyBytes caps JSON request bodies.
	DefaultMaxBodyBytes = 1 << 20
)

// Config holds HTTP-level settings.
type Config struct {
	// Addr is the listen address, e.g. ":5001".
	Addr string

	// BaseURL is the externally visible URL of this server. The OAuth
	// redirect URI is BaseURL + "/auth/callback".
	BaseURL string

	// FrontendURL is where the browser is sent after login. Empty means the
	// frontend is served from BaseURL.
	FrontendURL string

	// AllowedOrigins lists origins allowed to make credentialed CORS
	// requests. "*" allows any origin without credentials.
	AllowedOrigins []string

	// CookieSecure marks the session cookie Secure.
	CookieSecure bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxBodyBytes      int64
}

// Validate fills defaults and checks the URLs.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if err := validateHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	if c.FrontendURL != "" {
		if err := validateHTTPURL(c.FrontendURL); err != nil {
			return fmt.Errorf("invalid frontend URL: %w", err)
		}
	}
	return nil
}

// RedirectURI is the OAuth callback registered with Google.
func (c *Config) RedirectURI() string {
	return c.BaseURL + "/auth/callback"
}

func (c *Config) frontend() string {
	if c.FrontendURL != "" {
		return c.FrontendURL
	}
	return c.BaseURL
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
