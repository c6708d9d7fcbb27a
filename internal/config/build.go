package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Runtime é o que sai da config montada: gateway, stores e auxiliares.
type Runtime struct {
	Gateway     *application.Gateway
	Store       domain.CounterStore
	Stats       domain.StatsStore
	MemoryStats *infra.MemoryStatsStore
	RedisStats  *infra.RedisStatsStore
	Concurrency *application.ConcurrencyService
	Descriptor  ratelimit.DescriptorBuilder

	memory       *infra.MemoryCounterStore
	postgres     *infra.PostgresCounterStore
	cleanupEvery time.Duration
	log          logrus.FieldLogger
	closers      []func()
}

// Build monta tudo a partir de uma Config já validada.
// reg nil desliga as métricas. Falhas de conexão são ErrStoreUnavailable.
func Build(ctx context.Context, cfg *Config, reg prometheus.Registerer, log logrus.FieldLogger) (*Runtime, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	rt := &Runtime{log: log, cleanupEvery: duration(cfg.Store.CleanupEvery, 2*time.Minute)}

	var rdb redis.UniversalClient
	if cfg.Store.Type == "redis" || cfg.Stats.Redis {
		var err error
		rdb, err = NewRedisClient(ctx, cfg.Store.Redis)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
	}

	store, err := rt.buildStore(ctx, cfg.Store, rdb)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store

	policies, err := BuildPolicies(cfg.Policies, store)
	if err != nil {
		rt.Close()
		return nil, err
	}

	gw, err := application.NewGateway(policies, append(gatewayOptions(cfg.Gateway), application.WithLogger(log))...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Gateway = gw

	rt.Stats = rt.buildStats(cfg.Stats, rdb, reg)
	rt.Concurrency = ratelimit.NewConcurrencyService(cfg.Concurrency.Max, duration(cfg.Concurrency.AcquireTimeout, 0))
	if reg != nil && rt.Concurrency != nil {
		infra.RegisterInFlight(reg, rt.Concurrency.InFlight)
	}
	rt.Descriptor = BuildDescriptor(cfg)
	return rt, nil
}

func (rt *Runtime) buildStore(ctx context.Context, sc StoreConfig, rdb redis.UniversalClient) (domain.CounterStore, error) {
	switch sc.Type {
	case "redis":
		return infra.NewRedisCounterStore(rdb, infra.WithRedisPrefix(sc.Redis.Prefix)), nil

	case "postgres":
		pool, err := pgxpool.New(ctx, sc.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("%w: postgres: %w", domain.ErrStoreUnavailable, err)
		}
		rt.closers = append(rt.closers, pool.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("%w: postgres ping: %w", domain.ErrStoreUnavailable, err)
		}

		pg, err := infra.NewPostgresCounterStore(pool, infra.WithPostgresTable(sc.Postgres.Table))
		if err != nil {
			return nil, err
		}
		if sc.Postgres.EnsureSchema {
			if err := pg.EnsureSchema(pingCtx); err != nil {
				return nil, err
			}
		}
		rt.postgres = pg
		return pg, nil

	default:
		rt.memory = infra.NewMemoryCounterStore(
			infra.WithShards(sc.Shards),
			infra.WithCleanupEvery(rt.cleanupEvery),
		)
		return rt.memory, nil
	}
}

func (rt *Runtime) buildStats(sc StatsConfig, rdb redis.UniversalClient, reg prometheus.Registerer) domain.StatsStore {
	var sinks infra.MultiStats
	if sc.Prometheus && reg != nil {
		sinks = append(sinks, infra.NewPrometheusStats(reg))
		if rt.memory != nil {
			infra.RegisterTrackedKeys(reg, rt.memory)
		}
	}
	if sc.Memory {
		rt.MemoryStats = infra.NewMemoryStatsStore(infra.WithTrackKeys(sc.TrackKeys))
		sinks = append(sinks, rt.MemoryStats)
	}
	if sc.Redis && rdb != nil {
		rt.RedisStats = infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(sc.Prefix),
			infra.WithStatsTTL(duration(sc.TTL, 24*time.Hour)),
			infra.WithStatsBucket(sc.Bucket),
			infra.WithStatsTrackKeys(sc.TrackKeys),
		)
		sinks = append(sinks, rt.RedisStats)
	}

	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

// StartJanitors liga a limpeza periódica do store (memória ou Postgres).
// Para quando ctx encerra; o canal fecha quando a goroutine sai.
func (rt *Runtime) StartJanitors(ctx context.Context) <-chan struct{} {
	switch {
	case rt.memory != nil:
		return rt.memory.StartJanitor(ctx)
	case rt.postgres != nil:
		return rt.postgres.StartJanitor(ctx, rt.cleanupEvery, nil, func(err error) {
			rt.log.WithError(err).Warn("postgres cleanup failed")
		})
	default:
		// Redis expira sozinho (PEXPIRE)
		done := make(chan struct{})
		close(done)
		return done
	}
}

// Ready verifica o store de contadores. Memória está sempre pronta.
func (rt *Runtime) Ready(ctx context.Context) error {
	if p, ok := rt.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// NewRedisClient cria um UniversalClient (um endereço: simples; vários:
// cluster) e faz ping com timeout.
func NewRedisClient(ctx context.Context, rc RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    rc.Addrs(),
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", domain.ErrStoreUnavailable, err)
	}
	return rdb, nil
}

// BuildPolicies converte a lista da config, na mesma ordem.
func BuildPolicies(pcs []PolicyConfig, store domain.CounterStore) ([]*application.Policy, error) {
	out := make([]*application.Policy, 0, len(pcs))
	for _, pc := range pcs {
		ex, err := pc.Key.Spec().Build()
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pc.Name, err)
		}
		alg, err := domain.ParseAlgorithm(pc.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pc.Name, err)
		}
		fp, err := application.ParseFailurePolicy(pc.FailurePolicy)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", pc.Name, err)
		}

		p, err := application.NewPolicy(application.PolicyConfig{
			Name:           pc.Name,
			Extractor:      ex,
			Quota:          pc.Quota,
			Window:         duration(pc.Window, 0),
			Algorithm:      alg,
			Store:          store,
			FailurePolicy:  fp,
			FailureBackoff: duration(pc.FailureBackoff, 0),
			StoreTimeout:   duration(pc.StoreTimeout, 0),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func gatewayOptions(gc GatewayConfig) []application.GatewayOption {
	// valores já passaram pelo validator
	charge, _ := application.ParseChargeMode(gc.ChargeMode)
	missing, _ := application.ParseMissingKeyMode(gc.MissingKey)
	return []application.GatewayOption{
		application.WithChargeMode(charge),
		application.WithMissingKey(missing, duration(gc.MissingKeyBackoff, 0)),
	}
}

// BuildDescriptor monta o DescriptorBuilder: identidade configurada e os
// headers que alguma policy usa como chave.
func BuildDescriptor(cfg *Config) ratelimit.DescriptorBuilder {
	b := ratelimit.DescriptorBuilder{TrustXForwardedFor: cfg.Server.TrustXFF}

	var ids []ratelimit.IdentityFunc
	if secret := cfg.Server.Identity.JWTSecret; secret != "" {
		ids = append(ids, ratelimit.JWTIdentity([]byte(secret), cfg.Server.Identity.JWTClaim))
	}
	if h := cfg.Server.Identity.Header; h != "" {
		ids = append(ids, ratelimit.HeaderIdentity(h))
	}
	if len(ids) > 0 {
		b.Identity = ratelimit.FirstIdentity(ids...)
	}

	seen := map[string]struct{}{}
	for _, p := range cfg.Policies {
		for _, h := range p.Key.headers() {
			k := strings.ToLower(h)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			b.Headers = append(b.Headers, h)
		}
	}
	return b
}

func duration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
