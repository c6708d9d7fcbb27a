package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	store := infra.NewMemoryCounterStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	perAddr, err := application.NewPolicy(application.PolicyConfig{
		Name:      "per-address",
		Extractor: domain.AddressExtractor{},
		Quota:     10,
		Window:    time.Second,
		Store:     store,
	})
	if err != nil {
		log.WithError(err).Fatal("invalid policy")
	}
	perKey, err := application.NewPolicy(application.PolicyConfig{
		Name:      "per-api-key",
		Extractor: domain.HeaderExtractor{Header: "X-Api-Key"},
		Quota:     100,
		Window:    time.Minute,
		Algorithm: domain.SlidingWindow,
		Store:     store,
	})
	if err != nil {
		log.WithError(err).Fatal("invalid policy")
	}

	// sem X-Api-Key só a policy por IP vale
	gw, err := application.NewGateway([]*application.Policy{perAddr, perKey})
	if err != nil {
		log.WithError(err).Fatal("invalid gateway")
	}

	desc := ratelimit.DescriptorBuilder{
		TrustXForwardedFor: true,
		Headers:            []string{"X-Api-Key"},
	}

	r := chi.NewRouter()
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Gateway:             gw,
		Builder:             desc,
		AddRateLimitHeaders: true,
	}))
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/ratelimit/status", ratelimit.StatusHandler(gw, desc))

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", addr).Info("example server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
}
