// Package jwttest mints HMAC signed tokens for tests of code that only
// decodes access tokens.
package jwttest

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var secret = []byte("jwttest-secret")

// Options describes the claims of a minted token.
type Options struct {
	Subject  string
	Email    string
	Role     any
	TenantID string
	IssuedAt time.Time
	Expires  time.Time
}

// Mint returns a signed token with the given claims.
func Mint(o Options) string {
	claims := jwtlib.MapClaims{
		"sub": o.Subject,
		"exp": o.Expires.Unix(),
	}
	if o.Email != "" {
		claims["email"] = o.Email
	}
	if o.Role != nil {
		claims["role"] = o.Role
	}
	if o.TenantID != "" {
		claims["tenantId"] = o.TenantID
	}
	if !o.IssuedAt.IsZero() {
		claims["iat"] = o.IssuedAt.Unix()
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic(err)
	}
	return signed
}

// ExpiringIn mints a token for subject that expires d after now.
func ExpiringIn(subject string, now time.Time, d time.Duration) string {
	return Mint(Options{
		Subject:  subject,
		Email:    subject + "@example.com",
		Role:     "admin",
		TenantID: "tenant-1",
		IssuedAt: now,
		Expires:  now.Add(d),
	})
}
