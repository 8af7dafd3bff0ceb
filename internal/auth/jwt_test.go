package auth

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"

	"dmeRoutePlanner/internal/testutil"
)

const testSecret = "test-secret"

func TestParseFromMD_ValidBearer(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "alice", "dispatcher")
	ctx := testutil.CtxWithBearer(context.Background(), tok)
	p, err := ParseFromMD(ctx, testSecret)
	if err != nil {
		t.Fatalf("ParseFromMD: %v", err)
	}
	if p.Name != "alice" || p.Kind != KindDispatcher {
		t.Fatalf("principal mismatch: %+v", p)
	}
}

func TestParseFromMD_MissingHeader(t *testing.T) {
	_, err := ParseFromMD(context.Background(), testSecret)
	if err == nil {
		t.Fatalf("expected error for missing metadata")
	}
}

func TestParseFromMD_InvalidScheme(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "bob", "manager")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic "+tok))
	if _, err := ParseFromMD(ctx, testSecret); err == nil {
		t.Fatalf("expected error for non-Bearer scheme")
	}
	if _, err := parseJWT(tok, "wrong"); err == nil {
		t.Fatalf("expected error for wrong secret")
	}
}

func TestParseJWT_ClaimsValidation(t *testing.T) {
	tok := testutil.GenerateJWTHS256(t, testSecret, "", "")
	if _, err := parseJWT(tok, testSecret); err == nil {
		t.Fatalf("expected invalid claims error")
	}
	tok = testutil.GenerateJWTHS256(t, testSecret, "carol", "courier")
	if _, err := parseJWT(tok, testSecret); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	tok = testutil.GenerateJWTHS256(t, testSecret, "carol", "Manager")
	p, err := parseJWT(tok, testSecret)
	if err != nil || p.Kind != KindManager {
		t.Fatalf("kind should be case-insensitive: %+v %v", p, err)
	}
}

func TestIssueToken_RoundTrip(t *testing.T) {
	tok, err := IssueToken(testSecret, "dana", "admin", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	p, err := parseJWT(tok, testSecret)
	if err != nil {
		t.Fatalf("parseJWT: %v", err)
	}
	if p.Name != "dana" || p.Kind != KindAdmin {
		t.Fatalf("principal mismatch: %+v", p)
	}

	expired, err := IssueToken(testSecret, "dana", "admin", time.Nanosecond)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := parseJWT(expired, testSecret); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}

	if _, err := IssueToken("", "dana", "admin", 0); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
