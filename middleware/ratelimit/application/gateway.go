package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ChargeMode define se policies depois de uma rejeição ainda são cobradas.
type ChargeMode int

const (
	// ChargeUntilReject cobra até a policy que rejeitou, inclusive, e para;
	// as seguintes não contam o evento.
	ChargeUntilReject ChargeMode = iota
	// ChargeAll não faz short-circuit: cobra todas as policies, inclusive as
	// que vêm depois de uma rejeição, e reporta o maior RetryAfter.
	ChargeAll
)

func (m ChargeMode) String() string {
	if m == ChargeAll {
		return "charge-all"
	}
	return "charge-until-reject"
}

func ParseChargeMode(s string) (ChargeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "until-reject", "charge-until-reject":
		return ChargeUntilReject, nil
	case "all", "charge-all":
		return ChargeAll, nil
	default:
		return 0, fmt.Errorf("%w: unknown charge mode %q", domain.ErrInvalidConfiguration, s)
	}
}

// MissingKeyMode define o que fazer quando a requisição não tem o atributo
// que o extractor de uma policy exige.
type MissingKeyMode int

const (
	// SkipPolicy ignora a policy para essa requisição. É o padrão.
	SkipPolicy MissingKeyMode = iota
	// RejectRequest rejeita a requisição com o backoff configurado.
	RejectRequest
)

func (m MissingKeyMode) String() string {
	if m == RejectRequest {
		return "reject"
	}
	return "skip"
}

func ParseMissingKeyMode(s string) (MissingKeyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return SkipPolicy, nil
	case "reject":
		return RejectRequest, nil
	default:
		return 0, fmt.Errorf("%w: unknown missing key mode %q", domain.ErrInvalidConfiguration, s)
	}
}

// systemClock é o padrão de WithClock; application não importa infra.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Gateway aplica uma lista ordenada de policies a cada requisição.
//
// Não sabe nada de HTTP; o adapter em middleware/ratelimit traduz a Decision.
type Gateway struct {
	policies []*Policy
	clock    domain.Clock
	log      logrus.FieldLogger

	charge         ChargeMode
	missing        MissingKeyMode
	missingBackoff time.Duration

	// um aviso de store indisponível por segundo por policy
	storeWarn map[string]*rate.Sometimes
}

type GatewayOption func(*Gateway)

func WithClock(c domain.Clock) GatewayOption {
	return func(g *Gateway) {
		if c != nil {
			g.clock = c
		}
	}
}

func WithLogger(l logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

func WithChargeMode(m ChargeMode) GatewayOption {
	return func(g *Gateway) { g.charge = m }
}

// WithMissingKey define o modo de chave ausente; backoff só vale para RejectRequest.
func WithMissingKey(m MissingKeyMode, backoff time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.missing = m
		if backoff > 0 {
			g.missingBackoff = backoff
		}
	}
}

func NewGateway(policies []*Policy, opts ...GatewayOption) (*Gateway, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: at least one policy is required", domain.ErrInvalidConfiguration)
	}

	g := &Gateway{
		policies:       make([]*Policy, 0, len(policies)),
		clock:          systemClock{},
		log:            logrus.StandardLogger(),
		missingBackoff: DefaultFailureBackoff,
		storeWarn:      make(map[string]*rate.Sometimes, len(policies)),
	}
	for _, p := range policies {
		if p == nil {
			return nil, fmt.Errorf("%w: nil policy", domain.ErrInvalidConfiguration)
		}
		if _, dup := g.storeWarn[p.Name()]; dup {
			return nil, fmt.Errorf("%w: duplicate policy name %q", domain.ErrInvalidConfiguration, p.Name())
		}
		g.storeWarn[p.Name()] = &rate.Sometimes{Interval: time.Second}
		g.policies = append(g.policies, p)
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) Policies() []PolicyInfo {
	out := make([]PolicyInfo, 0, len(g.policies))
	for _, p := range g.policies {
		out = append(out, p.Info())
	}
	return out
}

func (g *Gateway) ChargeMode() ChargeMode         { return g.charge }
func (g *Gateway) MissingKeyMode() MissingKeyMode { return g.missing }

// Admit decide se a requisição entra.
//
// Rejeição: vale o maior RetryAfter entre as policies que rejeitaram.
// Admissão: Remaining/Limit vêm da policy com menor Remaining; se nenhuma
// policy contou o evento, Remaining é domain.RemainingUnknown.
func (g *Gateway) Admit(ctx context.Context, req domain.Request) domain.Decision {
	now := g.clock.Now()

	admit := domain.Decision{Admitted: true, Remaining: domain.RemainingUnknown, Reason: domain.ReasonAdmitted}
	var reject *domain.Decision

	for _, p := range g.policies {
		res, err := p.Check(ctx, req, now)
		if err != nil {
			if g.missing == SkipPolicy {
				g.log.WithField("policy", p.Name()).Debug("rate limit key missing, policy skipped")
				continue
			}
			res.RetryAfter = g.missingBackoff
		}
		if res.StoreErr != nil {
			g.warnStore(p, res)
		}

		if !res.Admitted {
			if reject == nil || res.RetryAfter > reject.RetryAfter {
				reject = &domain.Decision{
					Remaining:  0,
					Limit:      res.Limit,
					RetryAfter: res.RetryAfter,
					Policy:     res.Policy,
					Key:        res.Key,
					Reason:     res.Reason,
				}
			}
			if g.charge == ChargeUntilReject {
				break
			}
			continue
		}

		if res.Degraded {
			continue
		}
		if admit.Remaining == domain.RemainingUnknown || res.Remaining < admit.Remaining {
			admit.Remaining = res.Remaining
			admit.Limit = res.Limit
			admit.Policy = res.Policy
			admit.Key = res.Key
		}
	}

	if reject != nil {
		g.log.WithFields(logrus.Fields{
			"policy":      reject.Policy,
			"reason":      reject.Reason,
			"retry_after": reject.RetryAfter.String(),
		}).Debug("request rejected")
		return *reject
	}
	return admit
}

func (g *Gateway) warnStore(p *Policy, res PolicyResult) {
	g.storeWarn[p.Name()].Do(func() {
		g.log.WithError(res.StoreErr).WithFields(logrus.Fields{
			"policy":         p.Name(),
			"failure_policy": p.cfg.FailurePolicy.String(),
			"admitted":       res.Admitted,
		}).Warn("counter store unavailable")
	})
}

// Status consulta todas as policies sem cobrar nada.
func (g *Gateway) Status(ctx context.Context, req domain.Request) []PolicyStatus {
	now := g.clock.Now()
	out := make([]PolicyStatus, 0, len(g.policies))
	for _, p := range g.policies {
		out = append(out, p.Peek(ctx, req, now))
	}
	return out
}
