package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/infra"
)

type ConcurrencyOptions struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	// Service permite compartilhar o serviço (ex: gauge de in-flight).
	// Se nil, um é criado a partir de Max.
	Service *application.ConcurrencyService
}

// NewConcurrencyService cria o serviço com um semáforo de Max vagas.
// Max <= 0 devolve nil (sem limite).
func NewConcurrencyService(max int, timeout time.Duration) *application.ConcurrencyService {
	if max <= 0 {
		return nil
	}
	return application.NewConcurrencyService(infra.NewChanPool(max), timeout)
}

func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	svc := opts.Service
	if svc == nil {
		svc = NewConcurrencyService(opts.Max, opts.AcquireTimeout)
	}
	if svc == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
