package domain

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ExtractorKind identifica as variantes de KeyExtractor.
type ExtractorKind string

const (
	KindAddress   ExtractorKind = "address"
	KindIdentity  ExtractorKind = "identity"
	KindHeader    ExtractorKind = "header"
	KindComposite ExtractorKind = "composite"
)

// KeyExtractor deriva a chave de rate limit a partir do descritor.
//
// O conjunto de variantes é fechado (address, identity, header, composite).
// Quando o atributo exigido não existe, retorna erro embrulhando ErrExtraction.
type KeyExtractor interface {
	Kind() ExtractorKind
	Extract(r Request) (Key, error)
}

type AddressExtractor struct{}

func (AddressExtractor) Kind() ExtractorKind { return KindAddress }

func (AddressExtractor) Extract(r Request) (Key, error) {
	addr := NormalizeAddress(r.Address)
	if addr == "" {
		return "", fmt.Errorf("%w: request has no address", ErrExtraction)
	}
	return encodeKey(KindAddress, addr), nil
}

// IdentityExtractor usa a identidade autenticada como veio (só sem espaços).
// Identidades diferem por caixa (sub de JWT é case-sensitive); FoldCase
// junta "Alice@x" e "alice@x" e só deve ser ligado para e-mails.
type IdentityExtractor struct {
	FoldCase bool
}

func (IdentityExtractor) Kind() ExtractorKind { return KindIdentity }

func (e IdentityExtractor) Extract(r Request) (Key, error) {
	id := strings.TrimSpace(r.Identity)
	if e.FoldCase {
		id = strings.ToLower(id)
	}
	if id == "" {
		return "", fmt.Errorf("%w: request is not authenticated", ErrExtraction)
	}
	return encodeKey(KindIdentity, id), nil
}

// HeaderExtractor usa o valor de um header (ex: X-Api-Key).
type HeaderExtractor struct {
	Header string
}

func (HeaderExtractor) Kind() ExtractorKind { return KindHeader }

func (e HeaderExtractor) Extract(r Request) (Key, error) {
	v, _ := r.Header(e.Header)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: header %s is missing", ErrExtraction, e.Header)
	}
	return encodeKey(KindHeader, strings.ToLower(e.Header), v), nil
}

// CompositeExtractor junta várias partes numa chave só (chave conjunta,
// ex: tenant+IP). Limites em camadas, cada atributo com sua cota, são
// policies separadas no Gateway. Se qualquer parte faltar, a extração falha.
type CompositeExtractor struct {
	Parts []KeyExtractor
}

func (CompositeExtractor) Kind() ExtractorKind { return KindComposite }

func (e CompositeExtractor) Extract(r Request) (Key, error) {
	fields := make([]string, 0, len(e.Parts))
	for _, p := range e.Parts {
		k, err := p.Extract(r)
		if err != nil {
			return "", err
		}
		fields = append(fields, string(k))
	}
	return encodeKey(KindComposite, fields...), nil
}

// ExtractorSpec é a forma declarativa (vinda de config) de um extractor.
type ExtractorSpec struct {
	Kind   ExtractorKind
	Header string
	Parts  []ExtractorSpec

	// FoldCase vale só para KindIdentity.
	FoldCase bool
}

func (s ExtractorSpec) Build() (KeyExtractor, error) {
	switch s.Kind {
	case KindAddress:
		return AddressExtractor{}, nil
	case KindIdentity:
		return IdentityExtractor{FoldCase: s.FoldCase}, nil
	case KindHeader:
		h := strings.TrimSpace(s.Header)
		if h == "" {
			return nil, fmt.Errorf("%w: header extractor needs a header name", ErrInvalidConfiguration)
		}
		return HeaderExtractor{Header: h}, nil
	case KindComposite:
		if len(s.Parts) < 2 {
			return nil, fmt.Errorf("%w: composite extractor needs at least two parts", ErrInvalidConfiguration)
		}
		parts := make([]KeyExtractor, 0, len(s.Parts))
		for _, ps := range s.Parts {
			p, err := ps.Build()
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return CompositeExtractor{Parts: parts}, nil
	default:
		return nil, fmt.Errorf("%w: unknown key extractor %q", ErrInvalidConfiguration, s.Kind)
	}
}

// NamespacedKey prefixa a chave com o nome da policy, permitindo que
// várias policies compartilhem o mesmo CounterStore.
func NamespacedKey(policy string, k Key) string {
	return encodeFields("rl", policy, string(k))
}

// NormalizeAddress remove porta, zona e o mapeamento IPv4-em-IPv6.
// Endereços que não são IP são devolvidos sem espaços, como vieram.
func NormalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().WithZone("").String()
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return a.Unmap().WithZone("").String()
	}
	return s
}

func encodeKey(kind ExtractorKind, fields ...string) Key {
	return Key(encodeFields(string(kind), fields...))
}

// encodeFields usa prefixo de tamanho ("len:valor"), então nenhum
// valor consegue forjar o separador.
func encodeFields(prefix string, fields ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, f := range fields {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
