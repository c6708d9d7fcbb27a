package infra

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// MemoryCounterStore é o CounterStore em memória, particionado em shards.
//
// Cada shard tem seu próprio mutex; a shard de uma chave sai do xxhash dela.
// Chaves diferentes só disputam lock quando caem na mesma shard.
type MemoryCounterStore struct {
	shards       []*counterShard
	mask         uint64
	clock        domain.Clock
	cleanupEvery time.Duration
}

type counterShard struct {
	mu      sync.Mutex
	entries map[string]domain.WindowState
}

type StoreOption func(*MemoryCounterStore)

// WithShards define a quantidade de shards (arredondada para potência de 2).
func WithShards(n int) StoreOption {
	return func(s *MemoryCounterStore) {
		if n < 1 {
			n = 1
		}
		s.shards = make([]*counterShard, 1<<bits.Len(uint(n-1)))
	}
}

func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

// WithStoreClock define o relógio usado pelo janitor.
func WithStoreClock(c domain.Clock) StoreOption {
	return func(s *MemoryCounterStore) { s.clock = c }
}

func NewMemoryCounterStore(opts ...StoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		shards:       make([]*counterShard, 64),
		clock:        SystemClock{},
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{entries: make(map[string]domain.WindowState)}
	}
	s.mask = uint64(len(s.shards) - 1)
	return s
}

func (s *MemoryCounterStore) shard(key string) *counterShard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Increment implementa domain.CounterStore.
func (s *MemoryCounterStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowState{}, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.entries[key].Advance(window, now)
	sh.entries[key] = st
	return st, nil
}

// Peek implementa domain.CounterStore.
func (s *MemoryCounterStore) Peek(ctx context.Context, key string, window time.Duration, now time.Time) (domain.WindowState, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowState{}, false, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	sh := s.shard(key)
	sh.mu.Lock()
	st, ok := sh.entries[key]
	sh.mu.Unlock()

	if !ok || !st.Live(window, now) {
		return domain.WindowState{}, false, nil
	}
	return st, true, nil
}

// Len retorna quantas chaves estão sendo rastreadas.
func (s *MemoryCounterStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Cleanup remove janelas expiradas e sem acesso por mais uma janela.
// Trava uma shard por vez. Retorna quantas chaves saíram.
func (s *MemoryCounterStore) Cleanup(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, st := range sh.entries {
			if st.Evictable(now) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto; o canal retornado fecha quando ela sai.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if s.cleanupEvery <= 0 {
		close(done)
		return done
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup(s.clock.Now())
			}
		}
	}()
	return done
}

var _ domain.CounterStore = (*MemoryCounterStore)(nil)
