package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves a bearer token to the caller's user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

type JWTValidator struct {
	alg    string
	pub    *rsa.PublicKey
	secret []byte
}

func NewRS256Validator(path string) (*JWTValidator, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode public key")
	}
	pubIfc, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pub, ok := pubIfc.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not rsa public key")
	}
	return &JWTValidator{alg: "RS256", pub: pub}, nil
}

func NewHS256Validator(secret string) *JWTValidator {
	return &JWTValidator{alg: "HS256", secret: []byte(secret)}
}

func NewJWTValidator(alg, publicKeyPath, secret string) (*JWTValidator, error) {
	if strings.EqualFold(alg, "HS256") {
		return NewHS256Validator(secret), nil
	}
	return NewRS256Validator(publicKeyPath)
}

func (j *JWTValidator) Verify(_ context.Context, tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if j.alg == "HS256" {
			return j.secret, nil
		}
		return j.pub, nil
	}, jwt.WithValidMethods([]string{j.alg}))
	if err != nil {
		return "", err
	}
	if claims, ok := tok.Claims.(jwt.MapClaims); ok && tok.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
		if userID, ok := claims["user_id"].(string); ok && userID != "" {
			return userID, nil
		}
	}
	return "", ErrInvalidToken
}
