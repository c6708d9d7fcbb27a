package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
server:
  upstream_url: http://127.0.0.1:9000
  add_ratelimit_headers: true
  identity:
    header: X-User
store:
  type: memory
  shards: 8
gateway:
  charge_mode: charge-all
  missing_key: reject
  missing_key_backoff: 3s
policies:
  - name: per-address
    key: {kind: address}
    quota: 100
    window: 1m
  - name: per-user
    key: {kind: identity}
    quota: 10
    window: 1m
    algorithm: sliding-window
    failure_policy: fail-open
  - name: per-tenant-route
    key:
      kind: composite
      parts:
        - {kind: header, header: X-Tenant}
        - {kind: address}
    quota: 50
    window: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admission-gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 429, cfg.Server.RejectStatus)
	assert.Equal(t, "sub", cfg.Server.Identity.JWTClaim)
	assert.Equal(t, 8, cfg.Store.Shards)
	assert.Equal(t, "2m", cfg.Store.CleanupEvery)
	assert.Equal(t, 100, cfg.Concurrency.Max)
	require.Len(t, cfg.Policies, 3)
	assert.Equal(t, "per-user", cfg.Policies[1].Name)
	assert.Equal(t, "sliding-window", cfg.Policies[1].Algorithm)
	assert.Len(t, cfg.Policies[2].Key.Parts, 2)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("ADMISSION_SERVER_LISTEN_ADDR", ":7070")
	t.Setenv("ADMISSION_STORE_SHARDS", "16")
	t.Setenv("ADMISSION_LOG_FORMAT", "json")

	cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
	assert.Equal(t, 16, cfg.Store.Shards)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOnlyUsesDefaultPolicy(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("ADMISSION_SERVER_UPSTREAM_URL", "http://upstream:8080")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Len(t, cfg.Policies, 1)
	assert.Equal(t, "per-address", cfg.Policies[0].Name)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := LoadFrom(NewViper(filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
		require.NoError(t, err)
		return cfg
	}

	cases := map[string]func(c *Config){
		"zero quota":           func(c *Config) { c.Policies[0].Quota = 0 },
		"bad window":           func(c *Config) { c.Policies[0].Window = "soon" },
		"zero window":          func(c *Config) { c.Policies[0].Window = "0s" },
		"unknown key kind":     func(c *Config) { c.Policies[0].Key.Kind = "cookie" },
		"header without name":  func(c *Config) { c.Policies[0].Key = KeySpec{Kind: "header"} },
		"composite of one":     func(c *Config) { c.Policies[2].Key.Parts = c.Policies[2].Key.Parts[:1] },
		"duplicate names":      func(c *Config) { c.Policies[1].Name = c.Policies[0].Name },
		"unknown algorithm":    func(c *Config) { c.Policies[0].Algorithm = "leaky-bucket" },
		"redis without addr":   func(c *Config) { c.Store.Type = "redis" },
		"postgres without dsn": func(c *Config) { c.Store.Type = "postgres" },
		"bad upstream":         func(c *Config) { c.Server.UpstreamURL = "not a url" },
		"identity w/o source":  func(c *Config) { c.Server.Identity.Header = "" },
		"negative backoff":     func(c *Config) { c.Gateway.MissingKeyBackoff = "-1s" },
		"bad reject status":    func(c *Config) { c.Server.RejectStatus = 200 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidIsInvalidConfiguration(t *testing.T) {
	_, err := LoadFrom(NewViper(writeConfig(t, `
server: {upstream_url: "http://x"}
policies:
  - {name: p, key: {kind: address}, quota: -1, window: 1m}
`)))
	require.Error(t, err)
	assert.True(t, domain.IsInvalidConfiguration(err))
	assert.Contains(t, err.Error(), "Quota")
}

func TestBuild_MemoryRuntime(t *testing.T) {
	cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	reg := prometheus.NewRegistry()
	rt, err := Build(context.Background(), cfg, reg, logger)
	require.NoError(t, err)
	defer rt.Close()

	infos := rt.Gateway.Policies()
	require.Len(t, infos, 3)
	assert.Equal(t, domain.SlidingWindow, infos[1].Algorithm)
	assert.Equal(t, application.FailOpen, infos[1].FailurePolicy)
	assert.Equal(t, 30*time.Second, infos[2].Window)
	assert.Equal(t, application.ChargeAll, rt.Gateway.ChargeMode())
	assert.Equal(t, application.RejectRequest, rt.Gateway.MissingKeyMode())

	assert.Equal(t, []string{"X-Tenant"}, rt.Descriptor.Headers)
	assert.NotNil(t, rt.Descriptor.Identity)
	assert.NotNil(t, rt.MemoryStats)
	assert.NotNil(t, rt.Concurrency)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["admission_tracked_keys"])
	assert.True(t, names["admission_in_flight_requests"])

	req := domain.Request{Address: "10.0.0.1", Identity: "alice", Headers: map[string]string{"X-Tenant": "acme"}}
	d := rt.Gateway.Admit(context.Background(), req)
	assert.True(t, d.Admitted)
	assert.Equal(t, "per-user", d.Policy)
	assert.Equal(t, 9, d.Remaining)

	// sem identidade e missing_key=reject
	d = rt.Gateway.Admit(context.Background(), domain.Request{Address: "10.0.0.1", Headers: map[string]string{"X-Tenant": "acme"}})
	assert.False(t, d.Admitted)
	assert.Equal(t, domain.ReasonMissingKey, d.Reason)
	assert.Equal(t, 3*time.Second, d.RetryAfter)
}

func TestBuild_JanitorStops(t *testing.T) {
	cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
	require.NoError(t, err)
	rt, err := Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := rt.StartJanitors(ctx)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestBuild_RedisUnreachableIsStoreUnavailable(t *testing.T) {
	cfg, err := LoadFrom(NewViper(writeConfig(t, sampleYAML)))
	require.NoError(t, err)
	cfg.Store.Type = "redis"
	cfg.Store.Redis.Addr = "127.0.0.1:1"

	_, err = Build(context.Background(), cfg, nil, nil)
	assert.True(t, domain.IsStoreUnavailable(err))
}

func TestRedacted_HidesSecrets(t *testing.T) {
	cfg := Config{}
	cfg.Store.Redis.Password = "hunter2"
	cfg.Store.Postgres.DSN = "postgres://app:s3cr3t@db:5432/rl"
	cfg.Server.Identity.JWTSecret = "jwt-secret"

	out, err := yaml.Marshal(cfg.Redacted())
	require.NoError(t, err)
	s := string(out)
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "s3cr3t")
	assert.NotContains(t, s, "jwt-secret")
	assert.Contains(t, s, "postgres://app:********@db:5432/rl")

	assert.Equal(t, "hunter2", cfg.Store.Redis.Password)
}

func TestConfigureLogging(t *testing.T) {
	logger := logrus.New()
	require.NoError(t, ConfigureLogging(LogConfig{Level: "debug", Format: "json"}, logger))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	assert.Error(t, ConfigureLogging(LogConfig{Level: "loud"}, logger))
}

// downStore responde aos contadores mas falha no ping.
type downStore struct {
	*infra.MemoryCounterStore
}

func (downStore) Ping(context.Context) error {
	return domain.ErrStoreUnavailable
}

func TestRuntime_ReadyPingsStore(t *testing.T) {
	rt := &Runtime{Store: infra.NewMemoryCounterStore()}
	assert.NoError(t, rt.Ready(context.Background()))

	rt = &Runtime{Store: downStore{infra.NewMemoryCounterStore()}}
	assert.True(t, domain.IsStoreUnavailable(rt.Ready(context.Background())))
}

func TestKeySpec_FoldCaseIsOptIn(t *testing.T) {
	plain, err := KeySpec{Kind: "identity"}.Spec().Build()
	require.NoError(t, err)
	folded, err := KeySpec{Kind: "identity", FoldCase: true}.Spec().Build()
	require.NoError(t, err)

	a, _ := plain.Extract(domain.Request{Identity: "Ab3xQ"})
	b, _ := plain.Extract(domain.Request{Identity: "ab3xq"})
	assert.NotEqual(t, a, b)

	a, _ = folded.Extract(domain.Request{Identity: "Ab3xQ"})
	b, _ = folded.Extract(domain.Request{Identity: "ab3xq"})
	assert.Equal(t, a, b)
}
