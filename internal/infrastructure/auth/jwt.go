package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pkgerrors "github.com/velenik/payflow/pkg/errors"
)

// Claims carries the authenticated user id inside the token payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// TokenManager signs and verifies bearer tokens with a process-wide
// HMAC secret injected at construction.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager fails when the secret is empty; that is a fatal
// startup condition, not a per-request one. A ttl of 0 issues tokens
// without an exp claim.
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is not set")
	}
	return &TokenManager{secret: []byte(secret), ttl: ttl}, nil
}

// Issue mints a signed token embedding userID.
func (m *TokenManager) Issue(userID string) (string, error) {
	claims := Claims{UserID: userID}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(m.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks the signature and returns the embedded user id.
func (m *TokenManager) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", pkgerrors.ErrInvalidToken
	}
	if claims.UserID == "" {
		return "", pkgerrors.ErrInvalidToken
	}
	return claims.UserID, nil
}
