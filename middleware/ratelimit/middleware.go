package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type Options struct {
	Gateway             *application.Gateway
	Stats               domain.StatsStore
	Builder             DescriptorBuilder
	RejectStatus        int
	AddRateLimitHeaders bool
	Logger              logrus.FieldLogger
}

// Middleware consulta o Gateway antes de chamar next.
//
// Rejeitado: RejectStatus (429) com Retry-After em segundos inteiros
// (arredondado para cima, mínimo 1). O corpo é só o texto do status;
// chave, store e erro nunca vão para o cliente.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return func(next http.Handler) http.Handler {
		if opts.Gateway == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if reqID == "" {
				reqID = uuid.NewString()
				r.Header.Set(RequestIDHeader, reqID)
			}
			w.Header().Set(RequestIDHeader, reqID)

			req := opts.Builder.Build(r)
			dec := opts.Gateway.Admit(r.Context(), req)

			if opts.Stats != nil {
				ev := domain.EventFor(dec, r.Method, r.URL.Path, time.Now())
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					opts.Logger.WithError(err).WithField("request_id", reqID).Debug("stats record failed")
				}
			}

			if opts.AddRateLimitHeaders {
				setRateLimitHeaders(w.Header(), dec)
			}

			if !dec.Admitted {
				opts.Logger.WithFields(logrus.Fields{
					"request_id": reqID,
					"policy":     dec.Policy,
					"reason":     dec.Reason,
					"method":     r.Method,
					"path":       r.URL.Path,
				}).Info("request rejected")

				w.Header().Set("Retry-After", formatRetryAfter(dec.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(h http.Header, dec domain.Decision) {
	if dec.Limit > 0 {
		h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
	}
	if dec.Remaining >= 0 {
		h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	}
	if dec.Policy != "" {
		h.Set("X-RateLimit-Policy", dec.Policy)
	}
}
