package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHS256Validator(t *testing.T) {
	v := NewHS256Validator("secret")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	sub, err := v.Verify(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	bad, _ := tok.SignedString([]byte("other"))
	_, err = v.Verify(context.Background(), bad)
	assert.Error(t, err)
}

func TestHS256ValidatorUserIDClaim(t *testing.T) {
	v := NewHS256Validator("secret")
	s, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "bob"}).SignedString([]byte("secret"))
	sub, err := v.Verify(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "bob", sub)

	s, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).SignedString([]byte("secret"))
	_, err = v.Verify(context.Background(), s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRS256Validator(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewJWTValidator("RS256", path, "")
	require.NoError(t, err)

	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "carol"}).SignedString(key)
	require.NoError(t, err)
	sub, err := v.Verify(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "carol", sub)

	// an HS256 token must not pass the RS256 validator
	hs, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "carol"}).SignedString([]byte("x"))
	_, err = v.Verify(context.Background(), hs)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = BearerToken("")
	assert.ErrorIs(t, err, ErrMissingAuthorization)
	_, err = BearerToken("Basic abc")
	assert.ErrorIs(t, err, ErrInvalidAuthorization)
	_, err = BearerToken("Bearer ")
	assert.ErrorIs(t, err, ErrInvalidAuthorization)
}
