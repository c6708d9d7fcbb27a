package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-playground/validator/v10"
)

func registerValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("positive_duration", validatePositiveDuration); err != nil {
		return fmt.Errorf("failed to register positive_duration validator: %w", err)
	}
	return nil
}

// duration: vazio ou uma duração >= 0 ("250ms", "1m").
func validateDuration(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d >= 0
}

func validatePositiveDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
	return err == nil && d > 0
}

// Validate roda as tags e depois as regras que cruzam campos.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStores(); err != nil {
		return err
	}
	return c.validatePolicies()
}

func (c *Config) validateStores() error {
	needsRedis := c.Store.Type == "redis" || c.Stats.Redis
	if needsRedis && len(c.Store.Redis.Addrs()) == 0 {
		return errors.New("store.redis.addr is required when store.type=redis or stats.redis=true")
	}
	if c.Store.Type == "postgres" && strings.TrimSpace(c.Store.Postgres.DSN) == "" {
		return errors.New("store.postgres.dsn is required when store.type=postgres")
	}
	return nil
}

func (c *Config) validatePolicies() error {
	seen := make(map[string]struct{}, len(c.Policies))
	hasIdentitySource := c.Server.Identity.Header != "" || c.Server.Identity.JWTSecret != ""

	for i, p := range c.Policies {
		name := strings.TrimSpace(p.Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("policies[%d]: duplicate policy name %q", i, name)
		}
		seen[name] = struct{}{}

		if _, err := p.Key.Spec().Build(); err != nil {
			return fmt.Errorf("policies[%d] (%s): %w", i, name, err)
		}
		if p.Key.uses(domain.KindIdentity) && !hasIdentitySource {
			return fmt.Errorf("policies[%d] (%s): identity key needs server.identity.header or server.identity.jwt_secret", i, name)
		}
	}
	return nil
}

// Spec converte para a forma que o domain entende.
func (k KeySpec) Spec() domain.ExtractorSpec {
	s := domain.ExtractorSpec{
		Kind:     domain.ExtractorKind(strings.ToLower(strings.TrimSpace(k.Kind))),
		Header:   k.Header,
		FoldCase: k.FoldCase,
	}
	for _, p := range k.Parts {
		s.Parts = append(s.Parts, p.Spec())
	}
	return s
}

func (k KeySpec) uses(kind domain.ExtractorKind) bool {
	if domain.ExtractorKind(k.Kind) == kind {
		return true
	}
	for _, p := range k.Parts {
		if p.uses(kind) {
			return true
		}
	}
	return false
}

// headers lista os headers que os extractors header precisam ler.
func (k KeySpec) headers() []string {
	var out []string
	if domain.ExtractorKind(k.Kind) == domain.KindHeader && k.Header != "" {
		out = append(out, k.Header)
	}
	for _, p := range k.Parts {
		out = append(out, p.headers()...)
	}
	return out
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like 250ms or 1m", field)
	case "positive_duration":
		return fmt.Sprintf("%s must be a positive duration like 1s or 1m", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
