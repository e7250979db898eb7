package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ExtractBearerToken pulls the bearer token out of the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing API key")
	}
	return token, nil
}

// Authenticate matches a presented bearer token against the configured key in
// constant time.
func Authenticate(presented, apiKey string) bool {
	if presented == "" || apiKey == "" {
		return false
	}
	if len(presented) != len(apiKey) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) == 1
}
