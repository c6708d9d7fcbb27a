package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// incrementScript faz leitura, rollover e incremento num passo só.
// O hash guarda s (início, ms), c (contagem), ps/pc (janela anterior) e w.
var incrementScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local v = redis.call('HMGET', KEYS[1], 's', 'c')
local s = tonumber(v[1])
local c = tonumber(v[2]) or 0
local ps = 0
local pc = 0

if s == nil or c <= 0 or now - s >= window then
  if s ~= nil and c > 0 and s + 2 * window > now then
    ps = s
    pc = c
  end
  s = now
  c = 1
else
  c = c + 1
  local prev = redis.call('HMGET', KEYS[1], 'ps', 'pc')
  ps = tonumber(prev[1]) or 0
  pc = tonumber(prev[2]) or 0
end

redis.call('HSET', KEYS[1], 's', s, 'c', c, 'ps', ps, 'pc', pc, 'w', window)
redis.call('PEXPIRE', KEYS[1], 2 * window)
return {s, c, ps, pc}
`)

// RedisCounterStore é o CounterStore compartilhado entre instâncias.
type RedisCounterStore struct {
	rdb    redis.UniversalClient
	prefix string
}

type RedisStoreOption func(*RedisCounterStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisCounterStore) { s.prefix = strings.Trim(prefix, ":") }
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisCounterStore {
	s := &RedisCounterStore{rdb: rdb, prefix: "ratelimit:window"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Increment implementa domain.CounterStore.
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, error) {
	res, err := incrementScript.Run(ctx, s.rdb, []string{s.key(key)}, now.UnixMilli(), windowMillis(window)).Int64Slice()
	if err != nil {
		return domain.WindowState{}, fmt.Errorf("%w: redis increment: %w", domain.ErrStoreUnavailable, err)
	}
	if len(res) != 4 {
		return domain.WindowState{}, fmt.Errorf("%w: redis increment: unexpected reply of %d values", domain.ErrStoreUnavailable, len(res))
	}

	st := domain.WindowState{
		Start:  time.UnixMilli(res[0]),
		Count:  res[1],
		Window: window,
	}
	if res[3] > 0 {
		st.PrevStart = time.UnixMilli(res[2])
		st.PrevCount = res[3]
	}
	return st, nil
}

// Peek implementa domain.CounterStore. Não altera o TTL.
func (s *RedisCounterStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(key), "s", "c", "ps", "pc").Result()
	if err != nil {
		return domain.WindowState{}, false, fmt.Errorf("%w: redis peek: %w", domain.ErrStoreUnavailable, err)
	}

	nums, err := parseRedisInts(vals)
	if err != nil {
		return domain.WindowState{}, false, fmt.Errorf("%w: redis peek: %w", domain.ErrStoreUnavailable, err)
	}
	if nums == nil {
		return domain.WindowState{}, false, nil
	}

	st := domain.WindowState{Start: time.UnixMilli(nums[0]), Count: nums[1], Window: window}
	if nums[3] > 0 {
		st.PrevStart = time.UnixMilli(nums[2])
		st.PrevCount = nums[3]
	}
	if !st.Live(window, now) {
		return domain.WindowState{}, false, nil
	}
	return st, true, nil
}

// Ping verifica a conexão (readiness do gateway).
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// parseRedisInts devolve nil quando o hash não existe.
func parseRedisInts(vals []interface{}) ([]int64, error) {
	out := make([]int64, len(vals))
	present := false
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return nil, errors.New("unexpected field type")
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, err
		}
		out[i] = n
		present = true
	}
	if !present {
		return nil, nil
	}
	return out, nil
}

func windowMillis(w time.Duration) int64 {
	if ms := w.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)
