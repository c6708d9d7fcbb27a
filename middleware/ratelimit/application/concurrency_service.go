package application

import (
	"context"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService limita requisições simultâneas (não por janela).
// Aquisição com timeout opcional, sem saber nada sobre HTTP.
type ConcurrencyService struct {
	pool           domain.SlotPool
	acquireTimeout time.Duration

	inFlight atomic.Int64
	refused  atomic.Int64
}

// NewConcurrencyService: pool nil desativa o limite.
// timeout <= 0 espera até o ctx cancelar.
func NewConcurrencyService(pool domain.SlotPool, timeout time.Duration) *ConcurrencyService {
	return &ConcurrencyService{pool: pool, acquireTimeout: timeout}
}

// Acquire tenta ocupar uma vaga. Se ok=false, nenhuma vaga foi ocupada.
func (s *ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
	}

	rel, ok := s.pool.Acquire(acqCtx)
	if !ok {
		s.refused.Add(1)
		return nil, false
	}
	s.inFlight.Add(1)

	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			s.inFlight.Add(-1)
			rel()
		}
	}, true
}

// InFlight é o número de vagas ocupadas agora.
func (s *ConcurrencyService) InFlight() int64 { return s.inFlight.Load() }

// Refused conta aquisições que falharam desde o início.
func (s *ConcurrencyService) Refused() int64 { return s.refused.Load() }
