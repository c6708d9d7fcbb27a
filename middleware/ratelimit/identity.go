package ratelimit

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderIdentity usa o valor de um header (ex: X-User) como identidade.
// Só faz sentido atrás de algo que já autenticou e escreveu o header.
func HeaderIdentity(name string) IdentityFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// JWTIdentity lê um bearer token HMAC (HS256/384/512), valida assinatura e
// expiração, e devolve a claim indicada (padrão "sub").
// Token ausente ou inválido vira identidade ausente, nunca erro.
func JWTIdentity(secret []byte, claim string) IdentityFunc {
	if claim == "" {
		claim = "sub"
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	)
	keyFn := func(*jwt.Token) (any, error) { return secret, nil }

	return func(r *http.Request) string {
		raw, ok := bearerToken(r)
		if !ok || len(secret) == 0 {
			return ""
		}
		claims := jwt.MapClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, keyFn); err != nil {
			return ""
		}
		v, _ := claims[claim].(string)
		return strings.TrimSpace(v)
	}
}

// FirstIdentity tenta cada IdentityFunc em ordem.
func FirstIdentity(fns ...IdentityFunc) IdentityFunc {
	return func(r *http.Request) string {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if id := fn(r); id != "" {
				return id
			}
		}
		return ""
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
