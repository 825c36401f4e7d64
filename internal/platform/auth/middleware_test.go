package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/orders/internal/platform/requestctx"
)

type verifyFn func(ctx context.Context, idToken string) (*firebaseauth.Token, error)

func (f verifyFn) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	return f(ctx, idToken)
}

func tokenFor(uid string, claims map[string]any) verifyFn {
	return func(context.Context, string) (*firebaseauth.Token, error) {
		return &firebaseauth.Token{UID: uid, Claims: claims}, nil
	}
}

func TestAuthenticateSetsIdentityAndOwner(t *testing.T) {
	var received string
	authn := NewAuthenticator(verifyFn(func(_ context.Context, token string) (*firebaseauth.Token, error) {
		received = token
		return &firebaseauth.Token{UID: "uid-123", Claims: map[string]any{
			"role":  []any{"Admin", "admin", "user"},
			"email": "user@example.com",
		}}, nil
	}), "")

	var (
		identity *Identity
		owner    requestctx.Owner
	)
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
		owner, _ = requestctx.OwnerFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if received != "good-token" {
		t.Fatalf("expected token to be forwarded, got %q", received)
	}
	if identity == nil || identity.UID != "uid-123" || identity.Email != "user@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.HasRole(RoleAdmin) {
		t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
	}
	if owner.UserID != "uid-123" || owner.GuestID != "" {
		t.Fatalf("unexpected owner %+v", owner)
	}
}

func TestAuthenticateAllowsAnonymous(t *testing.T) {
	authn := NewAuthenticator(verifyFn(func(context.Context, string) (*firebaseauth.Token, error) {
		t.Fatal("verifier must not be called without a header")
		return nil, nil
	}), "")

	called := false
	handler := authn.Authenticate()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Fatal("expected no identity")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders", nil))
	if !called {
		t.Fatal("expected handler to run")
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	tests := []struct {
		name   string
		header string
		code   string
	}{
		{name: "basic scheme", header: "Basic abc", code: "unauthenticated"},
		{name: "empty bearer", header: "Bearer ", code: "unauthenticated"},
		{name: "verifier error", header: "Bearer bad", code: "invalid_token"},
	}
	authn := NewAuthenticator(verifyFn(func(context.Context, string) (*firebaseauth.Token, error) {
		return nil, errors.New("signature mismatch")
	}), "")

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := authn.Authenticate()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			}))
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			req.Header.Set("Authorization", tc.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		header bool
		want   int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "default user role", header: true, claims: map[string]any{}, want: http.StatusForbidden},
		{name: "admin string claim", header: true, claims: map[string]any{"role": "admin"}, want: http.StatusNoContent},
		{name: "admin map claim", header: true, claims: map[string]any{"role": map[string]any{"admin": true, "staff": false}}, want: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tokenFor("uid-1", tc.claims), "")
			handler := authn.Authenticate()(RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})))
			req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", nil)
			if tc.header {
				req.Header.Set("Authorization", "Bearer token")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
