// Package auth authenticates clients by JWT for the HTTP gateway and the
// gRPC server. The token subject is the client id.
package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Interceptor validates bearer tokens on gRPC calls.
type Interceptor struct {
	jwtSecret      string
	publicPrefixes []string
}

// NewAuthInterceptor creates an Interceptor that leaves the health and
// reflection services open and protects every other method.
func NewAuthInterceptor(jwtSecret string) *Interceptor {
	return &Interceptor{
		jwtSecret: jwtSecret,
		publicPrefixes: []string{
			"/grpc.health.v1.Health/",
			"/grpc.reflection.",
		},
	}
}

func (i *Interceptor) isPublic(fullMethod string) bool {
	for _, prefix := range i.publicPrefixes {
		if strings.HasPrefix(fullMethod, prefix) {
			return true
		}
	}
	return false
}

// Unary returns a gRPC unary interceptor for token validation on protected methods.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if i.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}

		ctx, err := i.authenticate(ctx)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream is the streaming counterpart of Unary.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if i.isPublic(info.FullMethod) {
			return handler(srv, ss)
		}

		ctx, err := i.authenticate(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

func (i *Interceptor) authenticate(ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "metadata missing")
	}

	tokenString, err := extractTokenFromMetadata(md)
	if err != nil {
		return nil, err
	}

	clientID, err := validateToken(tokenString, i.jwtSecret)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
	}
	return WithClientID(ctx, clientID), nil
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

// extractTokenFromMetadata retrieves a Bearer token from gRPC metadata.
func extractTokenFromMetadata(md metadata.MD) (string, error) {
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return "", status.Error(codes.Unauthenticated, "authorization header missing")
	}

	tokenString, ok := strings.CutPrefix(authHeaders[0], "Bearer ")
	if !ok {
		return "", status.Error(codes.Unauthenticated, "invalid authorization format: missing Bearer prefix")
	}
	if tokenString == "" {
		return "", status.Error(codes.Unauthenticated, "invalid authorization format: empty token")
	}

	return tokenString, nil
}
