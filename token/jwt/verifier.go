package jwt

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Verifier checks a token's signature.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) error
}

// OIDCVerifier verifies access tokens against the issuer's published keys.
// The provider is discovered on first use.
type OIDCVerifier struct {
	issuer string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(issuer string) *OIDCVerifier {
	return &OIDCVerifier{issuer: issuer}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) error {
	verifier, err := v.get(ctx)
	if err != nil {
		return err
	}
	if _, err := verifier.Verify(ctx, rawToken); err != nil {
		return fmt.Errorf("[OIDCVerifier Verify] %w", err)
	}
	return nil
}

func (v *OIDCVerifier) get(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return nil, fmt.Errorf("[OIDCVerifier] failed to create OIDC provider: %w", err)
	}
	// Access tokens carry an API audience rather than a client id, and the
	// expiry is judged separately by the session store.
	v.verifier = provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
		SkipExpiryCheck:   true,
	})
	return v.verifier, nil
}
