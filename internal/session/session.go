// Package session mints and verifies signed session handles so repeat
// callers do not have to retransmit delegated mailbox credentials.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inboxsift/inboxsift/internal/errs"
)

const tokenType = "session"

// Claims binds a user identity to an expiry window
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a server-held secret.
// Tokens are stateless: there is no revocation list, a handle stays
// valid until natural expiry.
type Issuer struct {
	secret []byte
	maxTTL time.Duration
}

// NewIssuer creates an issuer. TTLs above maxTTL are clamped at issue time.
func NewIssuer(secret string, maxTTL time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		maxTTL: maxTTL,
	}
}

// Issue mints a session token for a user identity
func (i *Issuer) Issue(userEmail string, ttl time.Duration) (string, error) {
	if userEmail == "" {
		return "", errs.New(errs.KindValidation, "user email required")
	}
	if ttl <= 0 || ttl > i.maxTTL {
		ttl = i.maxTTL
	}

	now := time.Now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userEmail,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "inboxsift",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", errs.Wrap(errs.KindAuth, "failed to sign session token", err)
	}
	return signed, nil
}

// Verify checks signature and expiry, returning the bound user identity
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.KindAuth, "unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return "", errs.Wrap(errs.KindAuth, "invalid session token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errs.New(errs.KindAuth, "invalid session token")
	}
	if claims.TokenType != tokenType {
		return "", errs.New(errs.KindAuth, "wrong token type")
	}
	if claims.Subject == "" {
		return "", errs.New(errs.KindAuth, "session token has no subject")
	}

	return claims.Subject, nil
}
