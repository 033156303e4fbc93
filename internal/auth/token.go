package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer    = "paservices_auth_service"
	DefaultAudience  = "paservices_microservices"
	DefaultAccessTTL = 30 * time.Minute

	// TokenKindM2M marks access tokens minted for the client_credentials grant.
	TokenKindM2M = "m2m_access"

	// SecretEnvVariable holds the shared HS256 key for issuers and verifiers.
	SecretEnvVariable = "AUTH_SERVICE_M2M_JWT_SECRET_KEY"
)

// Claims is the payload of an M2M access token.
type Claims struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

func (c *Claims) HasPermission(name string) bool {
	if c == nil {
		return false
	}
	return containsString(c.Permissions, name)
}

func (c *Claims) HasRole(name string) bool {
	if c == nil {
		return false
	}
	return containsString(c.Roles, name)
}

// Capabilities returns the role and permission sets carried by the token.
func (c *Claims) Capabilities() Capabilities {
	if c == nil {
		return NewCapabilities(nil, nil)
	}
	return NewCapabilities(c.Roles, c.Permissions)
}

// Reason classifies a verification failure for logs and metrics.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonMalformed Reason = "malformed"
	ReasonSignature Reason = "signature"
	ReasonIssuer    Reason = "issuer"
	ReasonAudience  Reason = "audience"
	ReasonExpired   Reason = "expired"
	ReasonKind      Reason = "kind"
	ReasonSubject   Reason = "subject"
)

type tokenConfig struct {
	issuer   string
	audience string
	kind     string
	ttl      time.Duration
	leeway   time.Duration
	now      func() time.Time
}

// TokenOption configures a Signer or Verifier.
type TokenOption func(*tokenConfig) error

func WithIssuer(issuer string) TokenOption {
	return func(c *tokenConfig) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return fmt.Errorf("%w: issuer cannot be empty", ErrInvalidInput)
		}
		c.issuer = issuer
		return nil
	}
}

func WithAudience(audience string) TokenOption {
	return func(c *tokenConfig) error {
		audience = strings.TrimSpace(audience)
		if audience == "" {
			return fmt.Errorf("%w: audience cannot be empty", ErrInvalidInput)
		}
		c.audience = audience
		return nil
	}
}

// WithKind overrides the token_type claim written and required.
func WithKind(kind string) TokenOption {
	return func(c *tokenConfig) error {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			return fmt.Errorf("%w: token kind cannot be empty", ErrInvalidInput)
		}
		c.kind = kind
		return nil
	}
}

// WithAccessTTL sets the token lifetime. Zero is rejected.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(c *tokenConfig) error {
		if ttl == 0 {
			return fmt.Errorf("%w: access ttl cannot be zero", ErrInvalidInput)
		}
		c.ttl = ttl
		return nil
	}
}

// WithLeeway tolerates clock skew when checking exp and iat.
func WithLeeway(d time.Duration) TokenOption {
	return func(c *tokenConfig) error {
		if d < 0 {
			return fmt.Errorf("%w: leeway cannot be negative", ErrInvalidInput)
		}
		c.leeway = d
		return nil
	}
}

func WithClock(clock func() time.Time) TokenOption {
	return func(c *tokenConfig) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidInput)
		}
		c.now = clock
		return nil
	}
}

func newTokenConfig(key []byte, opts []TokenOption) (tokenConfig, error) {
	cfg := tokenConfig{
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
		kind:     TokenKindM2M,
		ttl:      DefaultAccessTTL,
		now:      time.Now,
	}
	if len(key) == 0 {
		return cfg, fmt.Errorf("%w: signing key is required", ErrInvalidInput)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Signer mints HS256 access tokens.
type Signer struct {
	key []byte
	cfg tokenConfig
}

func NewSigner(key []byte, opts ...TokenOption) (*Signer, error) {
	cfg, err := newTokenConfig(key, opts)
	if err != nil {
		return nil, err
	}
	return &Signer{key: append([]byte(nil), key...), cfg: cfg}, nil
}

// TTL returns the configured token lifetime.
func (s *Signer) TTL() time.Duration { return s.cfg.ttl }

// Sign returns a compact JWS for subject with the given capabilities and
// the absolute expiry written into it.
func (s *Signer) Sign(subject string, caps Capabilities) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	caps = NewCapabilities(caps.Roles, caps.Permissions)

	now := s.cfg.now().UTC()
	expiresAt := now.Add(s.cfg.ttl)
	claims := Claims{
		Roles:       caps.Roles,
		Permissions: caps.Permissions,
		TokenType:   s.cfg.kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.cfg.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verifier checks access tokens without touching any store. It is safe for
// concurrent use.
type Verifier struct {
	key    []byte
	cfg    tokenConfig
	parser *jwt.Parser
}

func NewVerifier(key []byte, opts ...TokenOption) (*Verifier, error) {
	cfg, err := newTokenConfig(key, opts)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.issuer),
		jwt.WithAudience(cfg.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.leeway),
		jwt.WithTimeFunc(cfg.now),
	)
	return &Verifier{key: append([]byte(nil), key...), cfg: cfg, parser: parser}, nil
}

// Verify returns the claims of a valid token. Every failure is reported as
// ErrInvalidToken with nil claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims, _, err := v.VerifyWithReason(token)
	return claims, err
}

// VerifyWithReason behaves like Verify and also reports why a token was
// rejected.
func (v *Verifier) VerifyWithReason(token string) (*Claims, Reason, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ReasonMalformed, ErrInvalidToken
	}

	parsed, err := v.parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.key, nil
	})
	if err != nil {
		return nil, classify(err), ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ReasonMalformed, ErrInvalidToken
	}
	if claims.TokenType != v.cfg.kind {
		return nil, ReasonKind, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ReasonSubject, ErrInvalidToken
	}
	claims.Roles = dedupeStrings(claims.Roles)
	claims.Permissions = dedupeStrings(claims.Permissions)
	return claims, ReasonNone, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ReasonIssuer
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ReasonAudience
	default:
		return ReasonMalformed
	}
}
