package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func mustSigner(t *testing.T, key []byte, opts ...TokenOption) *Signer {
	t.Helper()
	s, err := NewSigner(key, opts...)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func mustVerifier(t *testing.T, key []byte, opts ...TokenOption) *Verifier {
	t.Helper()
	v, err := NewVerifier(key, opts...)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := mustSigner(t, testKey)
	verifier := mustVerifier(t, testKey)

	caps := NewCapabilities([]string{"service", "admin", "service"}, []string{"super_id:generate", "users:read"})
	token, expiresAt, err := signer.Sign("7b0a3f8e-2f61-4a2b-9c55-0f3b1a6e9d10", caps)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(expiresAt) <= 29*time.Minute {
		t.Fatalf("expected default 30m lifetime, got %v", time.Until(expiresAt))
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "7b0a3f8e-2f61-4a2b-9c55-0f3b1a6e9d10" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != DefaultIssuer {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if !slices.Contains(claims.Audience, DefaultAudience) {
		t.Fatalf("unexpected audience: %v", claims.Audience)
	}
	if claims.TokenType != TokenKindM2M {
		t.Fatalf("unexpected token type: %s", claims.TokenType)
	}
	if !slices.Equal(claims.Roles, []string{"admin", "service"}) {
		t.Fatalf("roles not preserved: %v", claims.Roles)
	}
	if !claims.HasPermission(PermSuperIDGenerate) || claims.HasPermission(PermUsersWrite) {
		t.Fatalf("permissions not preserved: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer := mustSigner(t, testKey)
	verifier := mustVerifier(t, testKey)

	token, _, err := signer.Sign("client", NewCapabilities(nil, []string{"users:read"}))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	claims, reason, err := verifier.VerifyWithReason(tampered)
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if claims != nil {
		t.Fatalf("expected nil claims, got %+v", claims)
	}
	if reason != ReasonSignature {
		t.Fatalf("expected signature reason, got %q", reason)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	token, _, err := mustSigner(t, testKey).Sign("client", Capabilities{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other := mustVerifier(t, []byte("another-key-another-key-another-k"))
	if _, reason, err := other.VerifyWithReason(token); !errors.Is(err, ErrInvalidToken) || reason != ReasonSignature {
		t.Fatalf("expected signature failure, got %v (%s)", err, reason)
	}
}

func TestVerifyIsolatesIssuerAndAudience(t *testing.T) {
	cases := []struct {
		name   string
		signer []TokenOption
		reason Reason
	}{
		{name: "issuer", signer: []TokenOption{WithIssuer("someone_else")}, reason: ReasonIssuer},
		{name: "audience", signer: []TokenOption{WithAudience("other_audience")}, reason: ReasonAudience},
		{name: "kind", signer: []TokenOption{WithKind("user_access")}, reason: ReasonKind},
	}
	verifier := mustVerifier(t, testKey)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, _, err := mustSigner(t, testKey, tc.signer...).Sign("client", Capabilities{})
			if err != nil {
				t.Fatalf("Sign: %v", err)
			}
			claims, reason, err := verifier.VerifyWithReason(token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if claims != nil {
				t.Fatal("expected nil claims")
			}
			if reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, reason)
			}
		})
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer := mustSigner(t, testKey, WithAccessTTL(-time.Minute))
	token, _, err := signer.Sign("client", Capabilities{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	_, reason, err := mustVerifier(t, testKey).VerifyWithReason(token)
	if !errors.Is(err, ErrInvalidToken) || reason != ReasonExpired {
		t.Fatalf("expected expired failure, got %v (%s)", err, reason)
	}
}

func TestVerifyUsesInjectedClock(t *testing.T) {
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := mustSigner(t, testKey, WithClock(func() time.Time { return issued }))
	token, expiresAt, err := signer.Sign("client", Capabilities{})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !expiresAt.Equal(issued.Add(DefaultAccessTTL)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	before := mustVerifier(t, testKey, WithClock(func() time.Time { return issued.Add(10 * time.Minute) }))
	if _, err := before.Verify(token); err != nil {
		t.Fatalf("expected token valid before expiry: %v", err)
	}
	after := mustVerifier(t, testKey, WithClock(func() time.Time { return issued.Add(31 * time.Minute) }))
	if _, err := after.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected token invalid after expiry, got %v", err)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		TokenType: TokenKindM2M,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "client",
			Audience:  jwt.ClaimStrings{DefaultAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testKey)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	if _, err := mustVerifier(t, testKey).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected HS512 token rejected, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := mustVerifier(t, testKey).Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg=none token rejected, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	verifier := mustVerifier(t, testKey)
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		claims, reason, err := verifier.VerifyWithReason(token)
		if !errors.Is(err, ErrInvalidToken) || claims != nil {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
		if reason == ReasonNone {
			t.Fatalf("token %q: expected a failure reason", token)
		}
	}
}

func TestTokenOptionsValidate(t *testing.T) {
	if _, err := NewSigner(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected empty key rejected, got %v", err)
	}
	if _, err := NewSigner(testKey, WithAccessTTL(0)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected zero ttl rejected, got %v", err)
	}
	if _, err := NewVerifier(testKey, WithIssuer("  ")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected blank issuer rejected, got %v", err)
	}
	if _, _, err := mustSigner(t, testKey).Sign(" ", Capabilities{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected blank subject rejected, got %v", err)
	}
}
