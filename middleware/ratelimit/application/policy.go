package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// FailurePolicy define o que fazer quando o CounterStore falha.
type FailurePolicy int

const (
	// FailClosed rejeita com FailureBackoff. É o padrão.
	FailClosed FailurePolicy = iota
	// FailOpen admite e marca o resultado como degradado.
	FailOpen
)

func (f FailurePolicy) String() string {
	if f == FailOpen {
		return "fail-open"
	}
	return "fail-closed"
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "closed", "fail-closed":
		return FailClosed, nil
	case "open", "fail-open":
		return FailOpen, nil
	default:
		return 0, fmt.Errorf("%w: unknown failure policy %q", domain.ErrInvalidConfiguration, s)
	}
}

const (
	DefaultFailureBackoff = 1 * time.Second
	DefaultStoreTimeout   = 250 * time.Millisecond
)

type PolicyConfig struct {
	Name      string
	Extractor domain.KeyExtractor
	Quota     int64
	Window    time.Duration
	Algorithm domain.Algorithm
	Store     domain.CounterStore

	FailurePolicy FailurePolicy
	// FailureBackoff é o Retry-After sugerido quando fail-closed rejeita.
	FailureBackoff time.Duration
	// StoreTimeout limita cada chamada ao store.
	StoreTimeout time.Duration
}

// Policy é uma regra nomeada: extractor + cota + janela + algoritmo + store.
// Imutável depois de criada; segura para uso concorrente.
type Policy struct {
	cfg PolicyConfig
}

// NewPolicy valida a configuração. Erros são ErrInvalidConfiguration.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	switch {
	case cfg.Name == "":
		return nil, fmt.Errorf("%w: policy name is required", domain.ErrInvalidConfiguration)
	case cfg.Quota <= 0:
		return nil, fmt.Errorf("%w: policy %q: quota must be positive, got %d", domain.ErrInvalidConfiguration, cfg.Name, cfg.Quota)
	case cfg.Window <= 0:
		return nil, fmt.Errorf("%w: policy %q: window must be positive, got %s", domain.ErrInvalidConfiguration, cfg.Name, cfg.Window)
	case cfg.Extractor == nil:
		return nil, fmt.Errorf("%w: policy %q: key extractor is required", domain.ErrInvalidConfiguration, cfg.Name)
	case cfg.Store == nil:
		return nil, fmt.Errorf("%w: policy %q: counter store is required", domain.ErrInvalidConfiguration, cfg.Name)
	case cfg.Algorithm != domain.FixedWindow && cfg.Algorithm != domain.SlidingWindow:
		return nil, fmt.Errorf("%w: policy %q: unknown algorithm %s", domain.ErrInvalidConfiguration, cfg.Name, cfg.Algorithm)
	case cfg.FailurePolicy != FailClosed && cfg.FailurePolicy != FailOpen:
		return nil, fmt.Errorf("%w: policy %q: unknown failure policy %d", domain.ErrInvalidConfiguration, cfg.Name, cfg.FailurePolicy)
	}

	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Policy{cfg: cfg}, nil
}

func (p *Policy) Name() string { return p.cfg.Name }

// PolicyInfo descreve a policy (log de startup, endpoint de status).
type PolicyInfo struct {
	Name          string
	Extractor     domain.ExtractorKind
	Quota         int64
	Window        time.Duration
	Algorithm     domain.Algorithm
	FailurePolicy FailurePolicy
}

func (p *Policy) Info() PolicyInfo {
	return PolicyInfo{
		Name:          p.cfg.Name,
		Extractor:     p.cfg.Extractor.Kind(),
		Quota:         p.cfg.Quota,
		Window:        p.cfg.Window,
		Algorithm:     p.cfg.Algorithm,
		FailurePolicy: p.cfg.FailurePolicy,
	}
}

// PolicyResult é o resultado de uma policy para um evento.
type PolicyResult struct {
	Policy     string
	Key        domain.Key
	Admitted   bool
	Remaining  int
	Limit      int
	RetryAfter time.Duration
	Reason     domain.Reason
	// Degraded: admitido por fail-open, sem contagem confiável.
	Degraded bool
	// StoreErr guarda a falha do store para log; nunca vai para o cliente.
	StoreErr error
}

// Check extrai a chave, cobra o evento e decide.
//
// O único erro retornado é ErrExtraction; falhas do store viram um
// resultado segundo a FailurePolicy.
func (p *Policy) Check(ctx context.Context, req domain.Request, now time.Time) (PolicyResult, error) {
	k, err := p.cfg.Extractor.Extract(req)
	if err != nil {
		return PolicyResult{Policy: p.cfg.Name, Limit: int(p.cfg.Quota), Reason: domain.ReasonMissingKey}, err
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	st, err := p.cfg.Store.Increment(sctx, domain.NamespacedKey(p.cfg.Name, k), p.cfg.Window, now)
	cancel()
	if err != nil {
		return p.storeFailure(k, err), nil
	}

	ev := p.cfg.Algorithm.Evaluate(st, p.cfg.Quota, p.cfg.Window, now)
	res := PolicyResult{
		Policy:    p.cfg.Name,
		Key:       k,
		Admitted:  ev.Admitted,
		Remaining: ev.Remaining,
		Limit:     int(p.cfg.Quota),
		Reason:    domain.ReasonAdmitted,
	}
	if !ev.Admitted {
		res.RetryAfter = ev.RetryAfter
		res.Reason = domain.ReasonQuotaExceeded
	}
	return res, nil
}

func (p *Policy) storeFailure(k domain.Key, err error) PolicyResult {
	if !domain.IsStoreUnavailable(err) {
		err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	res := PolicyResult{
		Policy:   p.cfg.Name,
		Key:      k,
		Limit:    int(p.cfg.Quota),
		Reason:   domain.ReasonStoreUnavailable,
		StoreErr: err,
	}
	if p.cfg.FailurePolicy == FailOpen {
		res.Admitted = true
		res.Degraded = true
		res.Remaining = domain.RemainingUnknown
		return res
	}
	res.RetryAfter = p.cfg.FailureBackoff
	return res
}

// PolicyStatus é a visão somente leitura de uma policy para um principal.
type PolicyStatus struct {
	Info PolicyInfo
	// Remaining após os eventos já contados; Quota se não há janela viva.
	Remaining int
	// WouldAdmit diz se o próximo evento seria admitido agora.
	WouldAdmit bool
	RetryAfter time.Duration
	// Skipped: a requisição não tem o atributo que o extractor exige.
	Skipped bool
	// Unavailable: o store falhou na leitura.
	Unavailable bool
}

// Peek consulta o estado sem cobrar nada.
func (p *Policy) Peek(ctx context.Context, req domain.Request, now time.Time) PolicyStatus {
	status := PolicyStatus{Info: p.Info(), Remaining: int(p.cfg.Quota), WouldAdmit: true}

	k, err := p.cfg.Extractor.Extract(req)
	if err != nil {
		status.Skipped = true
		return status
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	st, ok, err := p.cfg.Store.Peek(sctx, domain.NamespacedKey(p.cfg.Name, k), p.cfg.Window, now)
	cancel()
	if err != nil {
		status.Unavailable = true
		status.Remaining = domain.RemainingUnknown
		status.WouldAdmit = p.cfg.FailurePolicy == FailOpen
		if !status.WouldAdmit {
			status.RetryAfter = p.cfg.FailureBackoff
		}
		return status
	}
	if !ok {
		return status
	}

	status.Remaining = p.cfg.Algorithm.Evaluate(st, p.cfg.Quota, p.cfg.Window, now).Remaining

	next := st
	next.Count++
	ev := p.cfg.Algorithm.Evaluate(next, p.cfg.Quota, p.cfg.Window, now)
	status.WouldAdmit = ev.Admitted
	status.RetryAfter = ev.RetryAfter
	return status
}
