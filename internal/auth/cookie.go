package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const cookieIssuer = "spendbook"

// ErrInvalidCookie is returned for cookies that are malformed, forged or expired.
var ErrInvalidCookie = errors.New("invalid session cookie")

// CookieClaims binds a server-side session token to its user.
// The session token travels as the JWT ID and the user as the subject.
type CookieClaims struct {
	jwt.RegisteredClaims
}

// SessionToken returns the server-side session token.
func (c *CookieClaims) SessionToken() string { return c.ID }

// UserID returns the user the session belongs to.
func (c *CookieClaims) UserID() string { return c.Subject }

// CookieSigner signs and verifies session cookie values with HMAC-SHA256.
type CookieSigner struct {
	secret []byte
}

// NewCookieSigner creates a signer for secret.
func NewCookieSigner(secret []byte) *CookieSigner {
	return &CookieSigner{secret: secret}
}

// Sign returns the cookie value for a session.
func (s *CookieSigner) Sign(token, userID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := CookieClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        token,
			Subject:   userID,
			Issuer:    cookieIssuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of a cookie value at now.
func (s *CookieSigner) Verify(value string, now time.Time) (*CookieClaims, error) {
	claims := &CookieClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidCookie
	}
	return claims, nil
}
