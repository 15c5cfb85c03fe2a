package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// maxToolTimeout is the hard ceiling for any tool deadline.
const maxToolTimeout = 30 * time.Minute

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateLedger(cfg, ve)
	validateMemory(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.MaxConcurrentTurns <= 0 {
		ve.Add("agent.max_concurrent_turns must be > 0")
	}
	if cfg.Agent.TurnTimeout <= 0 {
		ve.Add("agent.turn_timeout must be > 0")
	}
	if cfg.Agent.SystemPrompt == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
}

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"ollama":    true,
	"bedrock":   true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if cfg.LLM.Cooldown < 0 {
		ve.Add("llm.cooldown must be >= 0")
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		typ := p.Type
		if typ == "" {
			typ = p.Name
		}
		if !validProviderTypes[typ] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic, gemini, ollama, bedrock)", i, typ)
		}
		if p.APIKey == "" && typ != "bedrock" && typ != "ollama" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, envPrefix, strings.ToUpper(p.Name))
		}
		if typ == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Retry.MaxAttempts < 0 {
			ve.Add("llm.providers[%d] (%s): retry.max_attempts must be >= 0", i, p.Name)
		}
		if p.Retry.Multiplier != 0 && p.Retry.Multiplier < 1 {
			ve.Add("llm.providers[%d] (%s): retry.multiplier must be >= 1", i, p.Name)
		}
		if p.RateLimit.RequestsPerMinute < 0 || p.RateLimit.RequestsPerHour < 0 || p.RateLimit.TokensPerMinute < 0 {
			ve.Add("llm.providers[%d] (%s): rate_limit values must be >= 0", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.DefaultTimeout <= 0 || cfg.Tools.DefaultTimeout > maxToolTimeout {
		ve.Add("tools.default_timeout must be in (0, %s]", maxToolTimeout)
	}
	if cfg.Tools.MaxWorkers <= 0 {
		ve.Add("tools.max_workers must be > 0")
	}
}

var validStoreDrivers = map[string]bool{"memory": true, "sqlite": true}

func validateLedger(cfg *Config, ve *ValidationError) {
	l := cfg.Ledger
	if !validStoreDrivers[l.Driver] {
		ve.Add("ledger.driver %q is invalid (want: memory, sqlite)", l.Driver)
	}
	if l.Driver == "sqlite" && l.Path == "" {
		ve.Add("ledger.path is required for the sqlite driver")
	}
	if l.DefaultDailyLimit < 0 || l.DefaultMonthlyLimit < 0 {
		ve.Add("ledger default limits must be >= 0")
	}
	if l.DefaultDailyLimit > 0 && l.DefaultMonthlyLimit > 0 && l.DefaultDailyLimit > l.DefaultMonthlyLimit {
		ve.Add("ledger.default_daily_limit must not exceed ledger.default_monthly_limit")
	}
	if l.MaxTokensPerConversation < 0 || l.MaxTokensPerRequest < 0 {
		ve.Add("ledger per-conversation and per-request caps must be >= 0")
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	st := cfg.Memory.ShortTerm
	switch st.Driver {
	case "memory":
	case "redis":
		if st.RedisURL == "" {
			ve.Add("memory.short_term.redis_url is required for the redis driver (set via %sREDIS_URL)", envPrefix)
		}
	default:
		ve.Add("memory.short_term.driver %q is invalid (want: memory, redis)", st.Driver)
	}
	if st.TTL <= 0 {
		ve.Add("memory.short_term.ttl must be > 0")
	}

	lt := cfg.Memory.LongTerm
	if !validStoreDrivers[lt.Driver] {
		ve.Add("memory.long_term.driver %q is invalid (want: memory, sqlite)", lt.Driver)
	}
	if lt.Driver == "sqlite" && lt.Path == "" {
		ve.Add("memory.long_term.path is required for the sqlite driver")
	}

	if cfg.Memory.CleanupSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Memory.CleanupSchedule); err != nil {
			ve.Add("memory.cleanup_schedule %q is invalid: %v", cfg.Memory.CleanupSchedule, err)
		}
	}
}

var validLogLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
