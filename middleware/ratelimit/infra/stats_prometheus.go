package infra

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStats exporta as decisões como métricas.
// Não usa a chave como label (cardinalidade).
type PrometheusStats struct {
	Decisions *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) *PrometheusStats {
	return &PrometheusStats{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions by policy and reason",
			},
			[]string{"policy", "reason"},
		),
	}
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	policy := ev.Policy
	if policy == "" {
		policy = "none"
	}
	reason := string(ev.Reason)
	if reason == "" {
		reason = string(domain.ReasonAdmitted)
		if !ev.Allowed {
			reason = string(domain.ReasonQuotaExceeded)
		}
	}
	p.Decisions.WithLabelValues(policy, reason).Inc()
	return nil
}

// RegisterTrackedKeys expõe o tamanho do store em memória como gauge.
func RegisterTrackedKeys(reg prometheus.Registerer, store *MemoryCounterStore) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "admission",
			Name:      "tracked_keys",
			Help:      "Number of rate limit windows held in memory",
		},
		func() float64 { return float64(store.Len()) },
	)
}

// RegisterInFlight expõe as vagas ocupadas do limite de concorrência.
func RegisterInFlight(reg prometheus.Registerer, inFlight func() int64) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "admission",
			Name:      "in_flight_requests",
			Help:      "Requests currently holding a concurrency slot",
		},
		func() float64 { return float64(inFlight()) },
	)
}

// MultiStats repassa o evento para vários StatsStore; devolve o primeiro erro.
type MultiStats []domain.StatsStore

func (m MultiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var first error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ domain.StatsStore = (*PrometheusStats)(nil)
	_ domain.StatsStore = MultiStats(nil)
)
