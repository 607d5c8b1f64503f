package auth

import (
	"context"
	"testing"

	"git.sr.ht/~kvothe/crosscollab/internal/httpx"
)

func TestNewGateEmptyURLIsNoOp(t *testing.T) {
	gate, err := NewGate(context.Background(), "")
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	req := &httpx.Request{Headers: httpx.Header{"authorization": "Bearer whatever"}}
	if _, ok := gate.Verify(req); ok {
		t.Fatal("no-op gate should never authenticate a request")
	}
}

func TestNilGateVerifyIsFalse(t *testing.T) {
	var gate *Gate
	if _, ok := gate.Verify(&httpx.Request{Headers: httpx.Header{}}); ok {
		t.Fatal("nil gate should never authenticate a request")
	}
}

func TestVerifyNoCredentialsRejected(t *testing.T) {
	gate := &Gate{}
	req := &httpx.Request{Headers: httpx.Header{}}
	if _, ok := gate.Verify(req); ok {
		t.Fatal("request without a bearer token or session cookie should be rejected")
	}
}

func TestBearerTokenExtraction(t *testing.T) {
	req := &httpx.Request{Headers: httpx.Header{"authorization": "Bearer abc.def.ghi"}}
	if got := bearerToken(req); got != "abc.def.ghi" {
		t.Fatalf("bearerToken = %q, want \"abc.def.ghi\"", got)
	}
}

func TestBearerTokenFallsBackToSessionCookie(t *testing.T) {
	req := &httpx.Request{Headers: httpx.Header{"cookie": "other=1; session=xyz; third=2"}}
	if got := bearerToken(req); got != "xyz" {
		t.Fatalf("bearerToken = %q, want \"xyz\"", got)
	}
}

func TestCookieValueMissing(t *testing.T) {
	if got := cookieValue("a=1; b=2", "session"); got != "" {
		t.Fatalf("cookieValue = %q, want \"\"", got)
	}
}
