package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStatsStore_Aggregates(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Policy: "per-ip", Reason: domain.ReasonAdmitted, Allowed: true, Method: "GET", Path: "/x"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "a", Policy: "per-ip", Reason: domain.ReasonQuotaExceeded, Method: "GET", Path: "/x"})
	_ = s.Record(ctx, domain.StatsEvent{Key: "b", Policy: "per-user", Reason: domain.ReasonStoreUnavailable, Method: "POST", Path: "/y"})

	assert.Equal(t, Counters{Allowed: 1, Denied: 2}, s.Total())
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByRoute()["GET /x"])
	assert.Equal(t, Counters{Denied: 1}, s.ByPolicy()["per-user"])
	assert.Equal(t, int64(1), s.ByReason()[domain.ReasonStoreUnavailable])
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByKey()["a"])

	// cópias, não o mapa interno
	s.ByRoute()["GET /x"] = Counters{}
	assert.Equal(t, Counters{Allowed: 1, Denied: 1}, s.ByRoute()["GET /x"])
}

func TestMemoryStatsStore_KeysOffByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "a", Allowed: true})
	assert.Empty(t, s.ByKey())
}

func TestPrometheusStats_CountsByPolicyAndReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusStats(reg)
	ctx := context.Background()

	_ = p.Record(ctx, domain.StatsEvent{Policy: "per-ip", Reason: domain.ReasonAdmitted, Allowed: true})
	_ = p.Record(ctx, domain.StatsEvent{Policy: "per-ip", Reason: domain.ReasonAdmitted, Allowed: true})
	_ = p.Record(ctx, domain.StatsEvent{Policy: "per-ip"})
	_ = p.Record(ctx, domain.StatsEvent{Allowed: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Decisions.WithLabelValues("per-ip", "admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Decisions.WithLabelValues("per-ip", "quota_exceeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Decisions.WithLabelValues("none", "admitted")))
}

func TestRegisterTrackedKeys(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := NewMemoryCounterStore()
	g := RegisterTrackedKeys(reg, store)

	_, _ = store.Increment(context.Background(), "a", time.Minute, t0)
	_, _ = store.Increment(context.Background(), "b", time.Minute, t0)
	assert.Equal(t, 2.0, testutil.ToFloat64(g))
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStats_RecordsEverywhereAndReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	first := errors.New("first")
	m := MultiStats{failingStats{first}, mem, failingStats{errors.New("second")}}

	err := m.Record(context.Background(), domain.StatsEvent{Allowed: true})
	require.ErrorIs(t, err, first)
	assert.Equal(t, Counters{Allowed: 1}, mem.Total())
}

func TestRegisterInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := int64(3)
	g := RegisterInFlight(reg, func() int64 { return n })
	assert.Equal(t, 3.0, testutil.ToFloat64(g))
}
