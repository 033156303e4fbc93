package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", "dev-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, "paservices_auth_service", cfg.JWTIssuer)
	assert.Equal(t, "paservices_microservices", cfg.JWTAudience)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL())
	assert.Equal(t, 10, cfg.TokenRate.Count)
	assert.Equal(t, time.Minute, cfg.TokenRate.Period)
	assert.Equal(t, 100, cfg.GeneralRate.Count)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.IsolateRateLimits())
	assert.Len(t, cfg.TokenOptions(), 3)
	assert.Empty(t, cfg.TrustedProxies)
}

func TestLoadRequiresSigningKey(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_SERVICE_M2M_JWT_SECRET_KEY")
}

func TestLoadProductionRules(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", "short")
	t.Setenv("DATABASE_URL", "postgres://auth@db/auth")

	_, err := Load()
	require.Error(t, err, "short key must be rejected in production")

	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", testKey)
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())

	t.Setenv("DATABASE_URL", "")
	_, err = Load()
	require.Error(t, err, "production requires a database")
}

func TestLoadCustomRates(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", testKey)
	t.Setenv("TOKEN_RATE_LIMIT", "5/second")
	t.Setenv("ENVIRONMENT", "testing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.TokenRate.Count)
	assert.Equal(t, time.Second, cfg.TokenRate.Period)
	assert.True(t, cfg.IsolateRateLimits())

	t.Setenv("TOKEN_RATE_LIMIT", "lots")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", testKey)
	t.Setenv("ENVIRONMENT", "moon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadIdentityProviderPair(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", testKey)
	t.Setenv("IDENTITY_PROVIDER_URL", "https://idp.example.com")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("IDENTITY_PROVIDER_KEY", "service-role")
	_, err = Load()
	assert.NoError(t, err)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "http://auth:8080/")
	t.Setenv("M2M_CLIENT_ID", "11111111-1111-4111-8111-111111111111")
	t.Setenv("M2M_CLIENT_SECRET", "s3cret")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://auth:8080", cfg.AuthServiceURL)
	assert.Equal(t, 60*time.Second, cfg.SafetyMargin())
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
}

func TestLoadClientRequiresCredentials(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "http://auth:8080")
	t.Setenv("M2M_CLIENT_ID", "")
	t.Setenv("M2M_CLIENT_SECRET", "")

	_, err := LoadClient()
	assert.Error(t, err)
}

func TestLoadVerifier(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", testKey)
	t.Setenv("GENERAL_RATE_LIMIT", "5/second")

	cfg, err := LoadVerifier()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 5, cfg.Rate.Count)
	assert.Equal(t, time.Second, cfg.Rate.Period)
	assert.Len(t, cfg.TokenOptions(), 2)

	t.Setenv("GENERAL_RATE_LIMIT", "lots")
	_, err = LoadVerifier()
	assert.Error(t, err)
}

func TestLoadTrustedProxies(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", "dev-key")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7,fd00::1/64")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.TrustedProxies, 3)
	assert.Equal(t, "10.0.0.0/8", cfg.TrustedProxies[0].String())
	assert.Equal(t, "192.0.2.7/32", cfg.TrustedProxies[1].String())
	assert.Equal(t, "fd00::/64", cfg.TrustedProxies[2].String())
}

func TestLoadRejectsBadTrustedProxy(t *testing.T) {
	t.Setenv("AUTH_SERVICE_M2M_JWT_SECRET_KEY", "dev-key")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,proxy.internal")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTED_PROXIES")
}
