package sessions

import (
	"context"

	"github.com/jrsteele09/go-crm-session/token/jwt"
)

// DecodedToken returns the claims of the stored access token, or nil when
// there is none or it cannot be decoded.
func (s *Store) DecodedToken(ctx context.Context) *jwt.Claims {
	raw := s.Token(ctx)
	if raw == "" {
		return nil
	}
	claims, err := jwt.Decode(raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("stored access token could not be decoded")
		return nil
	}
	return claims
}

// IsTokenValid is the strict check: an access token is stored, decodes and
// has not expired.
func (s *Store) IsTokenValid(ctx context.Context) bool {
	claims := s.DecodedToken(ctx)
	return claims != nil && !claims.Expired(s.nowFunc())
}

// IsAuthenticated is the lenient check used to gate routes. An access token
// and a user must be stored. When a refresh token is also present the access
// token may be expired, since renewing it is the refresher's job. Without a
// refresh token the access token must still be valid; if it is not, the
// stored data is cleared unless the user asked to be remembered.
func (s *Store) IsAuthenticated(ctx context.Context) bool {
	if s.Token(ctx) == "" || s.User(ctx) == nil {
		return false
	}
	if s.RefreshToken(ctx) != "" {
		return true
	}
	if s.IsTokenValid(ctx) {
		return true
	}

	if !s.Remember(ctx) {
		if err := s.Clear(ctx, ClearFull); err != nil {
			s.logger.Warn().Err(err).Msg("clearing unauthenticated session failed")
		}
	}
	return false
}
