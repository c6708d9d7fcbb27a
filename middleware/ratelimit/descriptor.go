package ratelimit

import (
	"net"
	"net/http"
	"net/textproto"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

// IdentityFunc resolve o principal autenticado; "" quando não há.
type IdentityFunc func(r *http.Request) string

// DescriptorBuilder transforma um *http.Request no domain.Request que o
// Gateway entende. Só os headers listados em Headers são copiados.
type DescriptorBuilder struct {
	TrustXForwardedFor bool
	Identity           IdentityFunc
	Headers            []string
}

func (b DescriptorBuilder) Build(r *http.Request) domain.Request {
	req := domain.Request{
		Address: b.clientAddress(r),
		Path:    r.URL.Path,
		Method:  r.Method,
	}
	if b.Identity != nil {
		req.Identity = strings.TrimSpace(b.Identity(r))
	}
	for _, name := range b.Headers {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			if req.Headers == nil {
				req.Headers = make(map[string]string, len(b.Headers))
			}
			req.Headers[textproto.CanonicalMIMEHeaderKey(name)] = v
		}
	}
	return req
}

func (b DescriptorBuilder) clientAddress(r *http.Request) string {
	if b.TrustXForwardedFor {
		// primeiro hop do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
