// Package session verifies Cognito tokens and manages the session cookie.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/predixa/entitlements/internal/clock"
	"github.com/predixa/entitlements/internal/observability/tracing"
)

var (
	ErrNotConfigured   = errors.New("session: identity provider not configured")
	ErrMissingToken    = errors.New("session: missing token")
	ErrInvalidToken    = errors.New("session: invalid token")
	ErrInvalidTokenUse = errors.New("session: unsupported token_use")
)

const (
	keySetTTL           = time.Hour
	keySetMinRefresh    = 30 * time.Second
	jwksFetchTimeout    = 5 * time.Second
	acceptableClockSkew = 30 * time.Second
)

// Claims is the verified identity carried by a token.
type Claims struct {
	Subject   string
	Email     string
	TokenUse  string
	ExpiresAt time.Time
}

// Verifier validates a raw token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

// CognitoVerifier checks signature, issuer, expiry, token_use and the
// audience (id tokens) or client_id (access tokens).
type CognitoVerifier struct {
	issuer   string
	clientID string
	keys     *keySource
	clock    clock.Clock
}

func NewCognitoVerifier(issuer, clientID, jwksURL string, client *http.Client, c clock.Clock) *CognitoVerifier {
	if client == nil {
		client = &http.Client{Timeout: jwksFetchTimeout}
	}
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &CognitoVerifier{
		issuer:   issuer,
		clientID: clientID,
		keys:     &keySource{url: jwksURL, client: tracing.WrapHTTPClient(client), clock: c},
		clock:    c,
	}
}

func (v *CognitoVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrMissingToken
	}

	set, err := v.keys.get(ctx, false)
	if err != nil {
		return Claims{}, err
	}
	token, err := v.parse(ctx, raw, set)
	if err != nil {
		// Keys may have rotated since the last fetch.
		refreshed, rerr := v.keys.get(ctx, true)
		if rerr != nil || refreshed == set {
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if token, err = v.parse(ctx, raw, refreshed); err != nil {
			return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	use := stringClaim(token, "token_use")
	switch use {
	case "id":
		if !containsString(token.Audience(), v.clientID) {
			return Claims{}, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
		}
	case "access":
		if len(token.Audience()) > 0 {
			if !containsString(token.Audience(), v.clientID) {
				return Claims{}, fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
			}
		} else if stringClaim(token, "client_id") != v.clientID {
			return Claims{}, fmt.Errorf("%w: client_id mismatch", ErrInvalidToken)
		}
	default:
		return Claims{}, ErrInvalidTokenUse
	}

	if token.Subject() == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Claims{
		Subject:   token.Subject(),
		Email:     stringClaim(token, "email"),
		TokenUse:  use,
		ExpiresAt: token.Expiration(),
	}, nil
}

func (v *CognitoVerifier) parse(ctx context.Context, raw string, set jwk.Set) (jwt.Token, error) {
	return jwt.ParseString(
		raw,
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithClock(jwt.ClockFunc(v.clock.Now)),
		jwt.WithAcceptableSkew(acceptableClockSkew),
		jwt.WithContext(ctx),
	)
}

func stringClaim(token jwt.Token, name string) string {
	raw, ok := token.Get(name)
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// keySource caches the JWKS document and refetches it when stale or when a
// token fails against the cached keys.
type keySource struct {
	url    string
	client *http.Client
	clock  clock.Clock

	mu        sync.Mutex
	set       jwk.Set
	fetchedAt time.Time
}

func (k *keySource) get(ctx context.Context, force bool) (jwk.Set, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.clock.Now()
	if k.set != nil {
		age := now.Sub(k.fetchedAt)
		if (!force && age < keySetTTL) || (force && age < keySetMinRefresh) {
			return k.set, nil
		}
	}

	set, err := jwk.Fetch(ctx, k.url, jwk.WithHTTPClient(k.client))
	if err != nil {
		if k.set != nil {
			return k.set, nil
		}
		return nil, fmt.Errorf("session: fetch jwks: %w", err)
	}
	k.set = set
	k.fetchedAt = now
	return set, nil
}
