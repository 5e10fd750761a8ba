package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes yields 43 URL-safe characters once encoded.
const tokenBytes = 32

// generateToken returns a random URL-safe value for state parameters and
// session IDs.
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
