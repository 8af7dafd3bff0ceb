package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewUnaryAuthInterceptor returns a gRPC unary interceptor that extracts and validates
// a Bearer JWT from incoming metadata and injects the Principal into the context.
// Methods listed in allowUnauthenticated will bypass authentication (e.g., health checks).
func NewUnaryAuthInterceptor(secret string, allowUnauthenticated ...string) grpc.UnaryServerInterceptor {
	allow := make(map[string]struct{}, len(allowUnauthenticated))
	for _, m := range allowUnauthenticated {
		allow[strings.TrimSpace(m)] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		if _, ok := allowPrefix(allow, info.FullMethod); ok {
			return handler(ctx, req)
		}
		p, err := ParseFromMD(ctx, secret)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "auth error: %v", err)
		}
		return handler(WithPrincipal(ctx, p), req)
	}
}

// allowPrefix matches entries ending in "/" against whole services ("/grpc.health.v1.Health/").
func allowPrefix(allow map[string]struct{}, method string) (string, bool) {
	for m := range allow {
		if strings.HasSuffix(m, "/") && strings.HasPrefix(method, m) {
			return m, true
		}
	}
	return "", false
}

// RequirePrincipal ensures a principal is present in context.
func RequirePrincipal(ctx context.Context) (*Principal, error) {
	p, ok := FromContext(ctx)
	if !ok || p == nil {
		return nil, status.Error(codes.Unauthenticated, "missing principal")
	}
	return p, nil
}

// RequireKind ensures the principal has one of kinds (lowercased compare).
func RequireKind(ctx context.Context, kinds ...string) (*Principal, error) {
	p, err := RequirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		if p.Kind == strings.ToLower(k) {
			return p, nil
		}
	}
	return nil, status.Errorf(codes.PermissionDenied, "only %s can perform this action", strings.Join(kinds, " or "))
}

// RequireDispatcher admits every kind that may work a dispatch session.
func RequireDispatcher(ctx context.Context) (*Principal, error) {
	return RequireKind(ctx, KindDispatcher, KindManager, KindAdmin)
}

// RequireManager ensures the caller may change shared data such as the driver list.
func RequireManager(ctx context.Context) (*Principal, error) {
	return RequireKind(ctx, KindManager, KindAdmin)
}

// RequireAdmin ensures the caller is an admin principal.
func RequireAdmin(ctx context.Context) (*Principal, error) {
	return RequireKind(ctx, KindAdmin)
}
