package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/ratelimit"
)

const minProductionKeyLength = 32

// Config holds the environment-based configuration of the auth service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR" envDefault:":9090"`

	DatabaseURL string `env:"DATABASE_URL"`

	// Shared HS256 key. Issuer and every verifying service must agree on it.
	JWTSecret    string `env:"AUTH_SERVICE_M2M_JWT_SECRET_KEY"`
	JWTIssuer    string `env:"M2M_JWT_ISSUER" envDefault:"paservices_auth_service"`
	JWTAudience  string `env:"M2M_JWT_AUDIENCE" envDefault:"paservices_microservices"`
	TokenTTLMins int    `env:"M2M_JWT_ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`

	TokenRateLimit   string `env:"TOKEN_RATE_LIMIT" envDefault:"10/minute"`
	GeneralRateLimit string `env:"GENERAL_RATE_LIMIT" envDefault:"100/minute"`

	// Addresses or CIDRs of reverse proxies allowed to set X-Forwarded-For.
	TrustedProxyList []string `env:"TRUSTED_PROXIES" envSeparator:","`

	IdentityProviderURL string `env:"IDENTITY_PROVIDER_URL"`
	IdentityProviderKey string `env:"IDENTITY_PROVIDER_KEY"`

	BootstrapFile    string `env:"AUTH_BOOTSTRAP_FILE"`
	BootstrapOnStart bool   `env:"AUTH_BOOTSTRAP_ON_START" envDefault:"false"`

	TokenRate      ratelimit.Rate
	GeneralRate    ratelimit.Rate
	TrustedProxies []netip.Prefix
}

// Load reads configuration from the environment, after loading a .env file
// if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	switch c.Environment {
	case "development", "testing", "test", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, testing, staging or production, got %q", c.Environment)
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New(auth.SecretEnvVariable + " is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < minProductionKeyLength {
		return fmt.Errorf("%s must be at least %d bytes in production", auth.SecretEnvVariable, minProductionKeyLength)
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required in production")
	}
	if c.TokenTTLMins <= 0 {
		return errors.New("M2M_JWT_ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}

	var err error
	if c.TokenRate, err = ratelimit.ParseRate(c.TokenRateLimit); err != nil {
		return fmt.Errorf("TOKEN_RATE_LIMIT: %w", err)
	}
	if c.GeneralRate, err = ratelimit.ParseRate(c.GeneralRateLimit); err != nil {
		return fmt.Errorf("GENERAL_RATE_LIMIT: %w", err)
	}
	if c.TrustedProxies, err = parseProxies(c.TrustedProxyList); err != nil {
		return fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	if (c.IdentityProviderURL == "") != (c.IdentityProviderKey == "") {
		return errors.New("IDENTITY_PROVIDER_URL and IDENTITY_PROVIDER_KEY must be set together")
	}
	return nil
}

// parseProxies accepts bare addresses as single-host prefixes.
func parseProxies(list []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range list {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// TokenTTL returns the configured access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMins) * time.Minute
}

// TokenOptions returns the signer/verifier options derived from c.
func (c *Config) TokenOptions() []auth.TokenOption {
	return []auth.TokenOption{
		auth.WithIssuer(c.JWTIssuer),
		auth.WithAudience(c.JWTAudience),
		auth.WithAccessTTL(c.TokenTTL()),
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsolateRateLimits reports whether every request should get its own rate
// limit bucket, which effectively disables limiting in test runs.
func (c *Config) IsolateRateLimits() bool {
	return c.Environment == "testing" || c.Environment == "test"
}

// ClientConfig configures a service that calls other services with tokens
// obtained from the auth service.
type ClientConfig struct {
	AuthServiceURL string        `env:"AUTH_SERVICE_URL,required,notEmpty"`
	ClientID       string        `env:"M2M_CLIENT_ID,required,notEmpty"`
	ClientSecret   string        `env:"M2M_CLIENT_SECRET,required,notEmpty"`
	MarginSeconds  int           `env:"TOKEN_SAFETY_MARGIN_SECONDS" envDefault:"60"`
	RequestTimeout time.Duration `env:"AUTH_REQUEST_TIMEOUT" envDefault:"10s"`
}

// LoadClient reads ClientConfig from the environment.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	if cfg.MarginSeconds < 0 {
		return nil, errors.New("TOKEN_SAFETY_MARGIN_SECONDS cannot be negative")
	}
	cfg.AuthServiceURL = strings.TrimRight(cfg.AuthServiceURL, "/")
	return cfg, nil
}

// SafetyMargin is how long before expiry a cached token is refreshed.
func (c *ClientConfig) SafetyMargin() time.Duration {
	return time.Duration(c.MarginSeconds) * time.Second
}

// VerifierConfig is what a downstream service needs to check tokens.
type VerifierConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8081"`
	JWTSecret   string `env:"AUTH_SERVICE_M2M_JWT_SECRET_KEY,required,notEmpty"`
	JWTIssuer   string `env:"M2M_JWT_ISSUER" envDefault:"paservices_auth_service"`
	JWTAudience string `env:"M2M_JWT_AUDIENCE" envDefault:"paservices_microservices"`
	DatabaseURL string `env:"DATABASE_URL"`
	RateLimit   string `env:"GENERAL_RATE_LIMIT" envDefault:"100/minute"`

	Rate ratelimit.Rate
}

// LoadVerifier reads VerifierConfig from the environment.
func LoadVerifier() (*VerifierConfig, error) {
	_ = godotenv.Load()

	cfg := &VerifierConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing verifier config: %w", err)
	}
	rate, err := ratelimit.ParseRate(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("GENERAL_RATE_LIMIT: %w", err)
	}
	cfg.Rate = rate
	return cfg, nil
}

func (c *VerifierConfig) TokenOptions() []auth.TokenOption {
	return []auth.TokenOption{
		auth.WithIssuer(c.JWTIssuer),
		auth.WithAudience(c.JWTAudience),
	}
}
