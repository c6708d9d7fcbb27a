package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkYAML = `
server:
  upstream_url: http://127.0.0.1:9000
  identity:
    jwt_secret: super-secret
policies:
  - name: per-address
    key: {kind: address}
    quota: 2
    window: 1m
`

func TestCheckCommand_PrintsRedactedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admission-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkYAML), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--config", path})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "name: per-address")
	assert.Contains(t, out.String(), "configuration OK: 1 policies")
	assert.NotContains(t, out.String(), "super-secret")
}

func TestAdminRouter(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", UpstreamURL: "http://127.0.0.1:9000"},
		Store:  config.StoreConfig{Type: "memory", Shards: 1},
		Stats:  config.StatsConfig{Prometheus: true, Memory: true},
		Policies: []config.PolicyConfig{
			{Name: "per-address", Key: config.KeySpec{Kind: "address"}, Quota: 2, Window: "1m"},
		},
	}
	logger, _ := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()

	rt, err := config.Build(context.Background(), cfg, reg, logger)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	// gera uma decisão para aparecer nas métricas
	dec := rt.Gateway.Admit(context.Background(), rt.Descriptor.Build(httptest.NewRequest(http.MethodGet, "/", nil)))
	require.True(t, dec.Admitted)
	require.NoError(t, rt.Stats.Record(context.Background(), domain.EventFor(dec, http.MethodGet, "/", time.Now())))

	h := newAdminRouter(rt, reg)
	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	rr := get("/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get("/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get("/ratelimit/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"policy":"per-address"`)
	assert.Contains(t, rr.Body.String(), `"remaining":1`)

	rr = get("/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "admission_decisions_total"), rr.Body.String())

	rr = get("/ratelimit/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"by_policy"`)
	assert.NotContains(t, rr.Body.String(), `"cluster_total"`)
}
