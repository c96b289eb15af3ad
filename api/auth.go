package api

import (
	"context"
	"fmt"
	"net/http"

	errs "github.com/jrsteele09/go-crm-session/internal/errors"
	"github.com/jrsteele09/go-crm-session/internal/utils"
	"github.com/jrsteele09/go-crm-session/sessions"
	"github.com/rs/zerolog"
)

const refreshPath = "/auth/refresh"

// AuthClient calls the unauthenticated auth endpoints.
type AuthClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewAuthClient(baseURL string, opts ...Option) *AuthClient {
	o := buildOptions(opts)
	return &AuthClient{
		baseURL:    trimBase(baseURL),
		httpClient: o.httpClient,
		logger:     o.logger,
	}
}

type tokensResponse struct {
	AccessToken       string  `json:"accessToken"`
	RefreshToken      string  `json:"refreshToken"`
	AccessTokenSnake  *string `json:"access_token,omitempty"`
	RefreshTokenSnake *string `json:"refresh_token,omitempty"`
}

func (r tokensResponse) tokens() *sessions.Tokens {
	t := &sessions.Tokens{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if t.AccessToken == "" {
		t.AccessToken = utils.Value(r.AccessTokenSnake)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = utils.Value(r.RefreshTokenSnake)
	}
	return t
}

// Refresh exchanges refreshToken for a new token pair.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*sessions.Tokens, error) {
	if refreshToken == "" {
		return nil, errs.Wrapf(errs.ErrNoRefreshToken, "[AuthClient Refresh]")
	}
	req, err := newJSONRequest(ctx, http.MethodPost, c.baseURL+refreshPath, map[string]string{
		"refreshToken": refreshToken,
	})
	if err != nil {
		return nil, errs.Wrapf(err, "[AuthClient Refresh]")
	}

	var resp tokensResponse
	if err := do(c.httpClient, req, &resp); err != nil {
		var se *StatusError
		if errs.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("[AuthClient Refresh] %w: %w", errs.ErrInvalidRefreshToken, err)
		}
		return nil, errs.Wrapf(err, "[AuthClient Refresh]")
	}
	tokens := resp.tokens()
	if tokens.AccessToken == "" {
		return nil, errs.Wrapf(errs.ErrInvalidToken, "[AuthClient Refresh] response has no access token")
	}
	c.logger.Debug().Bool("rotated", tokens.RefreshToken != "").Msg("refresh endpoint returned tokens")
	return tokens, nil
}
