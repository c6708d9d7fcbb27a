package config

import (
	"errors"
	"fmt"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "ADMISSION"

// defaults: ":8080", retry-after 1s, concorrência 100 e o que cada store
// precisa para subir sozinho. Registrados no viper para o env funcionar.
var defaults = map[string]any{
	"server.listen_addr":           ":8080",
	"server.admin_addr":            ":9090",
	"server.upstream_url":          "",
	"server.trust_xff":             false,
	"server.add_ratelimit_headers": false,
	"server.reject_status":         429,
	"server.identity.header":       "",
	"server.identity.jwt_secret":   "",
	"server.identity.jwt_claim":    "sub",

	"log.level":  "info",
	"log.format": "text",

	"store.type":                   "memory",
	"store.shards":                 64,
	"store.cleanup_every":          "2m",
	"store.redis.addr":             "",
	"store.redis.password":         "",
	"store.redis.db":               0,
	"store.redis.prefix":           "ratelimit:window",
	"store.postgres.dsn":           "",
	"store.postgres.table":         "rate_limit_windows",
	"store.postgres.ensure_schema": true,

	"stats.prometheus": true,
	"stats.memory":     true,
	"stats.redis":      false,
	"stats.prefix":     "ratelimit:stats",
	"stats.ttl":        "24h",
	"stats.bucket":     "minute",
	"stats.track_keys": false,

	"gateway.charge_mode":         "charge-until-reject",
	"gateway.missing_key":         "skip",
	"gateway.missing_key_backoff": "1s",

	"concurrency.max":             100,
	"concurrency.acquire_timeout": "0s",
}

// DefaultPolicies é usado quando o arquivo não declara nenhuma policy.
func DefaultPolicies() []PolicyConfig {
	return []PolicyConfig{{
		Name:      "per-address",
		Key:       KeySpec{Kind: string(domain.KindAddress)},
		Quota:     100,
		Window:    "1m",
		Algorithm: "fixed-window",
	}}
}

// NewViper prepara uma instância com arquivo, env e defaults.
// configFile vazio procura admission-gateway.yaml em . e /etc/admission-gateway.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("admission-gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/admission-gateway")
	}

	// ADMISSION_STORE_REDIS_ADDR sobrescreve store.redis.addr
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// com default registrado, Unmarshal enxerga a variável de ambiente
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Load lê .env, arquivo e ambiente, aplica defaults e valida.
// Erros de validação são domain.ErrInvalidConfiguration.
func Load(configFile string) (*Config, error) {
	// .env é opcional
	_ = godotenv.Load()
	return LoadFrom(NewViper(configFile))
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// sem arquivo: só env + defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Policies) == 0 {
		cfg.Policies = DefaultPolicies()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return &cfg, nil
}
