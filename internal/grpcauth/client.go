package grpcauth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenSource returns a bearer token, bypassing any cache when force is set.
// *tokencache.Cache satisfies it.
type TokenSource interface {
	Token(ctx context.Context, force bool) (string, error)
}

// UnaryClientInterceptor attaches a bearer token to every call. A call the
// server rejects with Unauthenticated is retried once with a freshly fetched
// token. Failing to obtain a token is Unavailable and never retried.
func UnaryClientInterceptor(src TokenSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		token, err := src.Token(ctx, false)
		if err != nil {
			return tokenError(ctx, err)
		}
		err = invoker(withBearer(ctx, token), method, req, reply, cc, opts...)
		if status.Code(err) != codes.Unauthenticated {
			return err
		}
		if token, err = src.Token(ctx, true); err != nil {
			return tokenError(ctx, err)
		}
		return invoker(withBearer(ctx, token), method, req, reply, cc, opts...)
	}
}

func withBearer(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, "Bearer "+token)
}

func tokenError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return status.FromContextError(ctx.Err()).Err()
	}
	return status.Errorf(codes.Unavailable, "obtain token: %v", err)
}
