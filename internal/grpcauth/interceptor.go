// Package grpcauth carries M2M bearer tokens over gRPC metadata.
package grpcauth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"paservices.dev/internal/auth"
	"paservices.dev/internal/obs"
)

const authorizationKey = "authorization"

// HealthMethods are the full method names of the standard health service.
var HealthMethods = []string{
	grpc_health_v1.Health_Check_FullMethodName,
	grpc_health_v1.Health_Watch_FullMethodName,
}

// ReflectionMethods are the full method names of server reflection.
var ReflectionMethods = []string{
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
}

type serverConfig struct {
	public map[string]struct{}
	perms  map[string]string
	logger *slog.Logger
}

// ServerOption configures the server interceptors.
type ServerOption func(*serverConfig)

// WithPublicMethods lists full method names that skip token verification.
func WithPublicMethods(methods ...string) ServerOption {
	return func(c *serverConfig) {
		for _, m := range methods {
			c.public[m] = struct{}{}
		}
	}
}

// WithMethodPermission makes the listed methods require perm on top of a
// valid token.
func WithMethodPermission(perm string, methods ...string) ServerOption {
	return func(c *serverConfig) {
		for _, m := range methods {
			c.perms[m] = perm
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

func newServerConfig(opts []ServerOption) serverConfig {
	cfg := serverConfig{public: make(map[string]struct{}), perms: make(map[string]string)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// UnaryServerInterceptor verifies the bearer token in the authorization
// metadata and stores the claims in the handler context.
func UnaryServerInterceptor(verifier *auth.Verifier, opts ...ServerOption) grpc.UnaryServerInterceptor {
	cfg := newServerConfig(opts)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := cfg.public[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		ctx, err := cfg.admit(ctx, verifier, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming RPCs.
func StreamServerInterceptor(verifier *auth.Verifier, opts ...ServerOption) grpc.StreamServerInterceptor {
	cfg := newServerConfig(opts)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := cfg.public[info.FullMethod]; ok {
			return handler(srv, ss)
		}
		ctx, err := cfg.admit(ss.Context(), verifier, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

func (c serverConfig) admit(ctx context.Context, verifier *auth.Verifier, method string) (context.Context, error) {
	ctx, err := authenticate(ctx, verifier, method, c.log())
	if err != nil {
		return ctx, err
	}
	if perm, ok := c.perms[method]; ok {
		if err := RequirePermission(ctx, perm); err != nil {
			c.log().Info("grpc call forbidden", "method", method, "permission", perm)
			return ctx, err
		}
	}
	return ctx, nil
}

func (c serverConfig) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return obs.Logger()
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, verifier *auth.Verifier, method string, logger *slog.Logger) (context.Context, error) {
	token, err := bearerFromMetadata(ctx)
	if err != nil {
		obs.RecordVerifyFailure("missing")
		return ctx, status.Error(codes.Unauthenticated, err.Error())
	}
	claims, reason, err := verifier.VerifyWithReason(token)
	if err != nil {
		obs.RecordVerifyFailure(string(reason))
		logger.Info("bearer token rejected", "method", method, "reason", string(reason))
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}
	return auth.ContextWithClaims(ctx, claims), nil
}

func bearerFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing bearer token")
	}
	values := md.Get(authorizationKey)
	if len(values) == 0 {
		return "", errors.New("missing bearer token")
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(values[0]), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("invalid authorization scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// RequirePermission returns a gRPC status error unless the verified claims in
// ctx carry perm.
func RequirePermission(ctx context.Context, perm string) error {
	err := auth.RequirePermission(ctx, perm)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrForbidden):
		return status.Error(codes.PermissionDenied, "Missing required permission: "+perm)
	default:
		return status.Error(codes.Unauthenticated, "authentication required")
	}
}
