package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// newAdminRouter: métricas, health/readiness e consulta de cota (sem cobrar).
func newAdminRouter(rt *config.Runtime, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	// readyz falha quando o store de contadores não responde
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := rt.Ready(ctx); err != nil {
			log.WithError(err).Warn("readiness check failed")
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Handle("/ratelimit/status", ratelimit.StatusHandler(rt.Gateway, rt.Descriptor))

	if rt.MemoryStats != nil || rt.RedisStats != nil {
		r.Get("/ratelimit/stats", func(w http.ResponseWriter, r *http.Request) {
			out := map[string]any{}
			if m := rt.MemoryStats; m != nil {
				out["total"] = m.Total()
				out["by_policy"] = m.ByPolicy()
				out["by_reason"] = m.ByReason()
				out["by_route"] = m.ByRoute()
			}
			// totais agregados de todas as instâncias
			if rt.RedisStats != nil {
				total, err := rt.RedisStats.Totals(r.Context())
				if err != nil {
					log.WithError(err).Warn("redis stats read failed")
					http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					return
				}
				out["cluster_total"] = total
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(out)
		})
	}
	return r
}
