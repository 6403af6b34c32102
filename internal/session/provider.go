package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provider is the identity session provider. Ready is closed once
// configuration has finished, whether or not Cognito is configured; an
// unconfigured provider rejects every token.
type Provider struct {
	clientID string
	verifier Verifier
	log      *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock
}

func NewProvider(p Params) *Provider {
	cognito := p.Config.Cognito
	log := p.Log.Named("session")

	var verifier Verifier
	if cognito.Configured() {
		verifier = NewCognitoVerifier(cognito.Issuer(), cognito.ClientID, cognito.JWKSURL(), nil, p.Clock)
	}
	provider := NewProviderWithVerifier(cognito.ClientID, verifier, log)

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if verifier == nil {
				log.Warn("cognito not configured, all sessions will be rejected")
			} else if cv, ok := verifier.(*CognitoVerifier); ok {
				if _, err := cv.keys.get(ctx, false); err != nil {
					log.Warn("jwks prefetch failed", zap.Error(err))
				}
			}
			provider.MarkReady()
			return nil
		},
	})
	return provider
}

// NewProviderWithVerifier builds a provider that is not yet ready.
func NewProviderWithVerifier(clientID string, verifier Verifier, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		clientID: clientID,
		verifier: verifier,
		log:      log,
		ready:    make(chan struct{}),
	}
}

func (p *Provider) MarkReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Provider) Ready() <-chan struct{} {
	return p.ready
}

func (p *Provider) Configured() bool {
	return p.verifier != nil
}

func (p *Provider) Verify(ctx context.Context, raw string) (Claims, error) {
	if p.verifier == nil {
		return Claims{}, ErrNotConfigured
	}
	return p.verifier.Verify(ctx, raw)
}

// Authenticate extracts and verifies the request token.
func (p *Provider) Authenticate(r *http.Request) (Claims, error) {
	raw, source := ExtractToken(r, p.clientID)
	if source == SourceNone {
		return Claims{}, ErrMissingToken
	}
	return p.Verify(r.Context(), raw)
}
