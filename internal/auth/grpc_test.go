package auth

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dmeRoutePlanner/internal/testutil"
)

func TestRequireKindHelpers(t *testing.T) {
	if _, err := RequirePrincipal(context.Background()); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("RequirePrincipal without principal: %v", err)
	}

	dctx := WithPrincipal(context.Background(), &Principal{Name: "alice", Kind: KindDispatcher})
	if _, err := RequireDispatcher(dctx); err != nil {
		t.Fatalf("RequireDispatcher dispatcher: %v", err)
	}
	if _, err := RequireManager(dctx); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("RequireManager dispatcher: %v", err)
	}

	mctx := WithPrincipal(context.Background(), &Principal{Name: "mo", Kind: KindManager})
	if _, err := RequireDispatcher(mctx); err != nil {
		t.Fatalf("RequireDispatcher manager: %v", err)
	}
	if _, err := RequireManager(mctx); err != nil {
		t.Fatalf("RequireManager manager: %v", err)
	}
	if _, err := RequireAdmin(mctx); status.Code(err) != codes.PermissionDenied {
		t.Fatalf("RequireAdmin manager: %v", err)
	}

	actx := WithPrincipal(context.Background(), &Principal{Name: "root", Kind: KindAdmin})
	for name, fn := range map[string]func(context.Context) (*Principal, error){
		"dispatcher": RequireDispatcher,
		"manager":    RequireManager,
		"admin":      RequireAdmin,
	} {
		if _, err := fn(actx); err != nil {
			t.Fatalf("admin should pass %s check: %v", name, err)
		}
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	secret := "s3cr3t"
	interceptor := NewUnaryAuthInterceptor(secret, "/health", "/grpc.health.v1.Health/")

	// Allowlisted methods run without a principal.
	for _, method := range []string{"/health", "/grpc.health.v1.Health/Check"} {
		hCalled := false
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req any) (any, error) {
			hCalled = true
			if p, ok := FromContext(ctx); ok && p != nil {
				t.Fatalf("expected no principal on allowlisted path")
			}
			return 123, nil
		})
		if err != nil || !hCalled {
			t.Fatalf("%s: allowlisted handler err=%v called=%v", method, err, hCalled)
		}
	}

	tok := testutil.GenerateJWTHS256(t, secret, "bob", "dispatcher")
	ctx := testutil.CtxWithBearer(context.Background(), tok)
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Op"}, func(ctx context.Context, req any) (any, error) {
		p, ok := FromContext(ctx)
		if !ok || p == nil || p.Name != "bob" || p.Kind != KindDispatcher {
			t.Fatalf("principal not injected: %+v ok=%v", p, ok)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("interceptor auth path: %v", err)
	}

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Op"}, func(ctx context.Context, req any) (any, error) {
		t.Fatalf("handler must not run without a token")
		return nil, nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
