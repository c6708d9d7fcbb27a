package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/middleware/ratelimit"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sobe o proxy e o listener de administração",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx, cfgFile)
	},
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := config.ConfigureLogging(cfg.Log, log.StandardLogger()); err != nil {
		return err
	}

	target, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid server.upstream_url: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rt, err := config.Build(ctx, cfg, reg, log.StandardLogger())
	if err != nil {
		return err
	}
	defer rt.Close()
	janitor := rt.StartJanitors(ctx)

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithError(err).WithField("request_id", r.Header.Get(ratelimit.RequestIDHeader)).Warn("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := http.Handler(proxy)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Service:      rt.Concurrency,
		RejectStatus: http.StatusServiceUnavailable,
	})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Gateway:             rt.Gateway,
		Stats:               rt.Stats,
		Builder:             rt.Descriptor,
		RejectStatus:        cfg.Server.RejectStatus,
		AddRateLimitHeaders: cfg.Server.AddRateLimitHeaders,
		Logger:              log.StandardLogger(),
	})(h)

	servers := []*http.Server{newServer(cfg.Server.ListenAddr, h)}
	if cfg.Server.AdminAddr != "" {
		servers = append(servers, newServer(cfg.Server.AdminAddr, newAdminRouter(rt, reg)))
	}

	logStartup(cfg, rt, target)

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).WithField("addr", srv.Addr).Warn("graceful shutdown failed")
		}
	}
	if ctx.Err() != nil {
		<-janitor
	}
	return runErr
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

func logStartup(cfg *config.Config, rt *config.Runtime, target *url.URL) {
	log.WithFields(log.Fields{
		"listen":   cfg.Server.ListenAddr,
		"admin":    cfg.Server.AdminAddr,
		"upstream": target.String(),
		"store":    cfg.Store.Type,
	}).Info("gateway listening")

	log.WithFields(log.Fields{
		"charge_mode": rt.Gateway.ChargeMode().String(),
		"missing_key": rt.Gateway.MissingKeyMode().String(),
		"trust_xff":   cfg.Server.TrustXFF,
		"concurrency": cfg.Concurrency.Max,
	}).Info("admission settings")

	for _, p := range rt.Gateway.Policies() {
		log.WithFields(log.Fields{
			"policy":         p.Name,
			"key_kind":       p.Extractor,
			"quota":          p.Quota,
			"window":         p.Window.String(),
			"algorithm":      p.Algorithm.String(),
			"failure_policy": p.FailurePolicy.String(),
		}).Info("policy loaded")
	}
}
