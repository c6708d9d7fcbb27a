package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

const (
	BucketMinute = "minute"
	BucketNone   = "none"
)

// RedisStatsStore agrega decisões em hashes:
//
//	<prefix>:total              allowed|denied
//	<prefix>:minute:YYYYMMDDhhmm allowed|denied (expira em ttl)
//	<prefix>:route              "GET /x:allowed"
//	<prefix>:policy             "per-ip:denied", "per-ip:quota_exceeded"
//	<prefix>:key:<key>          allowed|denied (opcional, expira em ttl)
type RedisStatsStore struct {
	rdb    redis.UniversalClient
	prefix string
	// total, route e policy são cumulativos e não expiram
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket: BucketMinute (padrão) ou BucketNone. Vazio mantém o padrão.
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		if b := strings.ToLower(strings.TrimSpace(bucket)); b != "" {
			s.bucket = b
		}
	}
}

// WithStatsTrackKeys liga o contador por chave. Cuidado com cardinalidade.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "admission:stats",
		ttl:    24 * time.Hour,
		bucket: BucketMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	outcome := "denied"
	if ev.Allowed {
		outcome = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.key("total"), outcome, 1)

	if s.bucket == BucketMinute {
		k := s.key("minute", at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, k, outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Method + " " + ev.Path); route != "" {
		pipe.HIncrBy(ctx, s.key("route"), route+":"+outcome, 1)
	}
	if ev.Policy != "" {
		pipe.HIncrBy(ctx, s.key("policy"), ev.Policy+":"+outcome, 1)
		if ev.Reason != "" {
			pipe.HIncrBy(ctx, s.key("policy"), ev.Policy+":"+string(ev.Reason), 1)
		}
	}

	if s.trackKeys && ev.Key != "" {
		k := s.key("key", string(ev.Key))
		pipe.HIncrBy(ctx, k, outcome, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis stats: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Totals lê o contador cumulativo (mesma forma de MemoryStatsStore.Total).
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key("total")).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("%w: redis stats: %w", domain.ErrStoreUnavailable, err)
	}

	var c Counters
	for field, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("%w: redis stats: field %s: %w", domain.ErrStoreUnavailable, field, err)
		}
		switch field {
		case "allowed":
			c.Allowed = n
		case "denied":
			c.Denied = n
		}
	}
	return c, nil
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)
