package refresh

import (
	"context"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"golang.org/x/oauth2"
)

// TokenSource serves the stored access token to oauth2 transports, renewing
// it first when it has expired and a refresh token is available.
type TokenSource struct {
	ctx     context.Context
	manager *Manager
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource binds a token source to ctx, which is used for store reads
// and refresh calls.
func NewTokenSource(ctx context.Context, manager *Manager) *TokenSource {
	return &TokenSource{ctx: ctx, manager: manager}
}

func (ts *TokenSource) Token() (*oauth2.Token, error) {
	store := ts.manager.store
	raw := store.Token(ts.ctx)
	if raw == "" {
		return nil, errs.Wrapf(errs.ErrNotAuthenticated, "[TokenSource Token]")
	}

	claims := store.DecodedToken(ts.ctx)
	if claims != nil && claims.Expired(NowTimeFunc()) && store.RefreshToken(ts.ctx) != "" {
		session, err := ts.manager.Refresh(ts.ctx)
		if err != nil {
			return nil, err
		}
		raw = session.AccessToken
		claims = store.DecodedToken(ts.ctx)
	}

	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if claims != nil {
		tok.Expiry = claims.ExpiresAt
	}
	return tok, nil
}
