package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/internal/utils"
	"github.com/jrsteele09/go-crm-session/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims are the access-token fields the client cares about.
type Claims struct {
	Subject   string    `json:"sub"`      // Users unique ID
	Email     string    `json:"email"`    // Users email
	Role      string    `json:"role"`     // Normalized role name
	TenantID  string    `json:"tenantId"` // Company the token is scoped to
	IssuedAt  time.Time `json:"iat"`      // Issued at time
	ExpiresAt time.Time `json:"exp"`      // Expiration
}

// Remaining is the time left until the token expires, negative once expired.
func (c *Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Expired reports whether the token has no time left at now.
func (c *Claims) Expired(now time.Time) bool {
	return c.Remaining(now) <= 0
}

// Decode reads the claims of rawToken without checking its signature. The
// client cannot verify tokens on its own; it decodes them only to learn
// identity and expiry.
func Decode(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errs.ErrInvalidToken
	}

	token, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errs.Wrapf(errs.ErrInvalidToken, "[jwt Decode] %s", err.Error())
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.Wrapf(errs.ErrInvalidToken, "[jwt Decode] error extracting claims")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, errs.Wrapf(errs.ErrInvalidToken, "[jwt Decode] missing exp claim")
	}

	out := &Claims{
		Subject:   stringClaim(claims, "sub", "userId", "id"),
		Email:     stringClaim(claims, "email"),
		Role:      roleClaim(claims),
		TenantID:  stringClaim(claims, "tenantId", "companyId", "tenant"),
		ExpiresAt: exp.Time,
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

// Remaining decodes rawToken and returns its time left relative to
// NowTimeFunc.
func Remaining(rawToken string) (time.Duration, error) {
	c, err := Decode(rawToken)
	if err != nil {
		return 0, err
	}
	return c.Remaining(NowTimeFunc()), nil
}

func stringClaim(claims jwtlib.MapClaims, names ...string) string {
	for _, name := range names {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// roleClaim accepts "role" as a string or {name} object, falling back to the
// first entry of a "roles" array.
func roleClaim(claims jwtlib.MapClaims) string {
	if role := users.NormalizeRole(claims["role"]); role != "" {
		return role
	}
	if roles, ok := claims["roles"].([]any); ok {
		if names := utils.ToStringSlice(roles); len(names) > 0 {
			return names[0]
		}
	}
	return ""
}

// IsDecodeError reports whether err came from a malformed token.
func IsDecodeError(err error) bool {
	return errors.Is(err, errs.ErrInvalidToken)
}
