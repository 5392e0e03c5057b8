package sharing

import (
	"crypto/rand"
	"encoding/base64"
)

const tokenEntropyBytes = 32

// newToken returns an opaque, URL-safe bearer token with enough entropy to be
// infeasible to guess or enumerate.
func newToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
