package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDescriptorBuilder_CopiesOnlyConfiguredHeaders(t *testing.T) {
	b := DescriptorBuilder{Headers: []string{"x-client"}}

	r := httptest.NewRequest(http.MethodPost, "http://example/a/b", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")
	r.Header.Set("Cookie", "session=secret")

	req := b.Build(r)
	if got, _ := req.Header("X-CLIENT"); got != "client-123" {
		t.Fatalf("expected header value, got %q", got)
	}
	if _, ok := req.Header("Cookie"); ok {
		t.Fatalf("cookie must not be copied")
	}
	if req.Path != "/a/b" || req.Method != http.MethodPost {
		t.Fatalf("unexpected path/method: %s %s", req.Method, req.Path)
	}
}

func TestDescriptorBuilder_TrustXForwardedForUsesFirstIP(t *testing.T) {
	b := DescriptorBuilder{TrustXForwardedFor: true}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := b.Build(r).Address; got != "1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDescriptorBuilder_IgnoresXForwardedForByDefault(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got := (DescriptorBuilder{}).Build(r).Address; got != "10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestDescriptorBuilder_RemoteAddrWithoutPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[::1]:80"
	if got := (DescriptorBuilder{}).Build(r).Address; got != "::1" {
		t.Fatalf("expected ::1, got %q", got)
	}

	r.RemoteAddr = "unix-socket"
	if got := (DescriptorBuilder{}).Build(r).Address; got != "unix-socket" {
		t.Fatalf("expected raw remote addr, got %q", got)
	}
}

func TestDescriptorBuilder_Identity(t *testing.T) {
	b := DescriptorBuilder{Identity: HeaderIdentity("X-User")}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	if got := b.Build(r).Identity; got != "" {
		t.Fatalf("expected no identity, got %q", got)
	}

	r.Header.Set("X-User", " alice ")
	if got := b.Build(r).Identity; got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
}
