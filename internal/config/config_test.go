package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("COGNITO_USER_POOL_ID", "us-east-1_pool")
	t.Setenv("COGNITO_CLIENT_ID", "client-1")
	t.Setenv("ENTITLEMENTS_BACKEND", "DynamoDB")
	t.Setenv("RATE_LIMIT_REQUESTS_PER_WINDOW", "5")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "1000")
	t.Setenv("PROVIDER_TIMEOUT", "1500")
	t.Setenv("STRIPE_PRICE_ID_MONTHLY", "price_m")
	t.Setenv("STRIPE_PRICE_ID_YEARLY", "")
	t.Setenv("EVENT_LOG_RETENTION", "720h")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.AuthCookieSecure)
	assert.Equal(t, BackendDynamoDB, cfg.EntitlementsBackend)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 1500*time.Millisecond, cfg.ProviderTimeout)
	assert.Equal(t, []string{"price_m"}, cfg.Stripe.PriceIDs())
	assert.True(t, cfg.Cognito.Configured())
	assert.Equal(t, 30*24*time.Hour, cfg.EventLogRetention)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.Equal(t, 0.25, cfg.Observability.SamplingRatio)
}

func TestCognitoURLs(t *testing.T) {
	c := CognitoConfig{Region: "eu-west-1", UserPoolID: "eu-west-1_abc"}
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc", c.Issuer())
	assert.Equal(t, "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc/.well-known/jwks.json", c.JWKSURL())
	assert.False(t, c.Configured())
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "15s")
	assert.Equal(t, 15*time.Second, getenvDuration("X_DURATION", time.Minute))
	t.Setenv("X_DURATION", "garbage")
	assert.Equal(t, time.Minute, getenvDuration("X_DURATION", time.Minute))
}
