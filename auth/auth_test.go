package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticKey(t *testing.T) {
	k := NewStaticKey("s3cret")
	ctx := context.Background()

	if _, err := k.CheckAuthentication(ctx, "s3cret"); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
	for _, bad := range []string{"", "s3cre", "s3cret!", "S3CRET"} {
		if _, err := k.CheckAuthentication(ctx, bad); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("credential %q: expected ErrUnauthorized, got %v", bad, err)
		}
	}
}

func TestStaticKeyEmptySecretRejectsAll(t *testing.T) {
	k := NewStaticKey("")
	if _, err := k.CheckAuthentication(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	called := false
	h := Middleware(NewStaticKey("k"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/search?query=x", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if called {
		t.Fatal("downstream handler must not run on rejection")
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != false || body["error"] != "unauthorized" || body["detail"] != RejectionDetail {
		t.Fatalf("unexpected body: %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/search?query=x", nil)
	req.Header.Set(HeaderName, "k")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || !called {
		t.Fatalf("authorized request not forwarded: %d", rr.Code)
	}
}

func TestWriteRPCUnauthorized(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteRPCUnauthorized(rr)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Unauthorized: Missing or invalid API key"},"id":null}` + "\n"
	if rr.Body.String() != want {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
