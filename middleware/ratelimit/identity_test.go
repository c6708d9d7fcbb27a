package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret = []byte("test-secret")

func signed(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTIdentity_ValidToken(t *testing.T) {
	fn := JWTIdentity(jwtSecret, "")
	tok := signed(t, jwt.SigningMethodHS256, jwtSecret, jwt.MapClaims{
		"sub": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if got := fn(bearerRequest(tok)); got != "user-7" {
		t.Fatalf("expected user-7, got %q", got)
	}
}

func TestJWTIdentity_CustomClaim(t *testing.T) {
	fn := JWTIdentity(jwtSecret, "email")
	tok := signed(t, jwt.SigningMethodHS512, jwtSecret, jwt.MapClaims{
		"sub":   "user-7",
		"email": "alice@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	if got := fn(bearerRequest(tok)); got != "alice@example.com" {
		t.Fatalf("expected email claim, got %q", got)
	}
}

func TestJWTIdentity_InvalidTokensAreAnonymous(t *testing.T) {
	fn := JWTIdentity(jwtSecret, "sub")
	future := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"no header":    "",
		"wrong secret": signed(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "x", "exp": future}),
		"expired":      signed(t, jwt.SigningMethodHS256, jwtSecret, jwt.MapClaims{"sub": "x", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no exp":       signed(t, jwt.SigningMethodHS256, jwtSecret, jwt.MapClaims{"sub": "x"}),
		"unsigned":     signed(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "x", "exp": future}),
		"garbage":      "not.a.token",
	}
	for name, tok := range cases {
		if got := fn(bearerRequest(tok)); got != "" {
			t.Fatalf("%s: expected anonymous, got %q", name, got)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := fn(r); got != "" {
		t.Fatalf("basic auth must be ignored, got %q", got)
	}
}

func TestFirstIdentity_FallsBack(t *testing.T) {
	fn := FirstIdentity(JWTIdentity(jwtSecret, ""), nil, HeaderIdentity("X-User"))

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-User", "bob")
	if got := fn(r); got != "bob" {
		t.Fatalf("expected header fallback, got %q", got)
	}

	tok := signed(t, jwt.SigningMethodHS256, jwtSecret, jwt.MapClaims{"sub": "carol", "exp": time.Now().Add(time.Minute).Unix()})
	r.Header.Set("Authorization", "bearer "+tok)
	if got := fn(r); got != "carol" {
		t.Fatalf("expected jwt identity first, got %q", got)
	}
}
