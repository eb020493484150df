package auth

import (
	"errors"
	"strings"
)

const bearerPrefix = "Bearer "

var (
	ErrMissingAuthorization = errors.New("missing Authorization header")
	ErrInvalidAuthorization = errors.New("invalid Authorization header")
)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthorization
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ErrInvalidAuthorization
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", ErrInvalidAuthorization
	}
	return token, nil
}
