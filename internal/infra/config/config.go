package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for every environment override.
const envPrefix = "REAGENT_"

// Config is the root configuration of the agent runtime.
type Config struct {
	Agent  AgentConfig  `yaml:"agent"`
	LLM    LLMConfig    `yaml:"llm"`
	Tools  ToolsConfig  `yaml:"tools"`
	Ledger LedgerConfig `yaml:"ledger"`
	Memory MemoryConfig `yaml:"memory"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// AgentConfig holds ReAct engine settings.
type AgentConfig struct {
	ID                 string        `yaml:"id"`
	MaxIterations      int           `yaml:"max_iterations"`
	SystemPrompt       string        `yaml:"system_prompt"`
	MaxConcurrentTurns int           `yaml:"max_concurrent_turns"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	Temperature        float64       `yaml:"temperature"`
	MaxTokens          int           `yaml:"max_tokens"`
	// Tools restricts the agent to the named tools; empty allows all.
	Tools []string `yaml:"tools"`
	// NativeTools also offers tools through provider function calling.
	NativeTools bool `yaml:"native_tools"`
}

// LLMConfig holds model gateway settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Cooldown        time.Duration        `yaml:"cooldown"`
	AttemptTimeout  time.Duration        `yaml:"attempt_timeout"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	Providers       []ProviderConfig     `yaml:"providers"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RetryConfig controls per-provider retry with exponential backoff.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// RateLimitConfig caps request and token throughput per provider. Zero disables a limit.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"`
	BaseURL     string          `yaml:"base_url"`
	APIKey      string          `yaml:"api_key"`
	Model       string          `yaml:"model"`
	Region      string          `yaml:"region,omitempty"`
	Priority    int             `yaml:"priority"`
	Enabled     *bool           `yaml:"enabled,omitempty"`
	ConnTimeout time.Duration   `yaml:"conn_timeout"`
	RespTimeout time.Duration   `yaml:"resp_timeout"`
	Retry       RetryConfig     `yaml:"retry"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// IsEnabled reports whether the provider takes part in routing. Providers are
// enabled unless explicitly disabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ToolsConfig holds tool executor settings.
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	MaxWorkers     int           `yaml:"max_workers"`
}

// LedgerConfig holds token accounting settings.
type LedgerConfig struct {
	Driver                   string `yaml:"driver"`
	Path                     string `yaml:"path"`
	DefaultDailyLimit        int64  `yaml:"default_daily_limit"`
	DefaultMonthlyLimit      int64  `yaml:"default_monthly_limit"`
	MaxTokensPerConversation int64  `yaml:"max_tokens_per_conversation"`
	MaxTokensPerRequest      int64  `yaml:"max_tokens_per_request"`
}

// ShortTermConfig selects the TTL conversation store.
type ShortTermConfig struct {
	Driver   string        `yaml:"driver"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// LongTermConfig selects the durable tag-searchable store.
type LongTermConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// MemoryConfig holds conversation store settings.
type MemoryConfig struct {
	ShortTerm       ShortTermConfig `yaml:"short_term"`
	LongTerm        LongTermConfig  `yaml:"long_term"`
	CleanupSchedule string          `yaml:"cleanup_schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.reagent/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".reagent", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Agent: AgentConfig{
			ID:                 "default",
			MaxIterations:      10,
			SystemPrompt:       "You are a helpful assistant that reasons step by step and uses tools when they help.",
			MaxConcurrentTurns: 16,
			TurnTimeout:        5 * time.Minute,
			MaxTokens:          1024,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Cooldown:        time.Minute,
			AttemptTimeout:  2 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    time.Minute,
			},
		},
		Tools: ToolsConfig{
			DefaultTimeout: 5 * time.Minute,
			MaxWorkers:     8,
		},
		Ledger: LedgerConfig{
			Driver:              "memory",
			Path:                filepath.Join(dataDir, "ledger.db"),
			DefaultDailyLimit:   100_000,
			DefaultMonthlyLimit: 2_000_000,
		},
		Memory: MemoryConfig{
			ShortTerm: ShortTermConfig{
				Driver: "memory",
				TTL:    24 * time.Hour,
			},
			LongTerm: LongTermConfig{
				Driver: "memory",
				Path:   filepath.Join(dataDir, "conversations.db"),
			},
			CleanupSchedule: "@every 10m",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies .env and env var overrides, and
// decrypts secrets. A missing file yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(envPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv loads a .env file next to the config file, if present. Variables
// already set in the environment win.
func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err != nil {
		return nil
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("load %s: %w", envPath, err)
	}
	return nil
}

// ApplyEnvOverrides maps REAGENT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envPrefix + "AGENT_SYSTEM_PROMPT"); v != "" {
		cfg.Agent.SystemPrompt = v
	}
	if v, ok := envInt("AGENT_MAX_ITERATIONS"); ok {
		cfg.Agent.MaxIterations = v
	}
	if v, ok := envInt("AGENT_MAX_CONCURRENT_TURNS"); ok {
		cfg.Agent.MaxConcurrentTurns = v
	}
	if v := os.Getenv(envPrefix + "AGENT_NATIVE_TOOLS"); v != "" {
		cfg.Agent.NativeTools = v == "true"
	}
	if v := os.Getenv(envPrefix + "LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v, ok := envDuration("LLM_COOLDOWN"); ok {
		cfg.LLM.Cooldown = v
	}
	if v, ok := envDuration("TOOLS_DEFAULT_TIMEOUT"); ok {
		cfg.Tools.DefaultTimeout = v
	}
	if v, ok := envInt("TOOLS_MAX_WORKERS"); ok {
		cfg.Tools.MaxWorkers = v
	}
	if v := os.Getenv(envPrefix + "LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv(envPrefix + "LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v, ok := envInt64("LEDGER_DEFAULT_DAILY_LIMIT"); ok {
		cfg.Ledger.DefaultDailyLimit = v
	}
	if v, ok := envInt64("LEDGER_DEFAULT_MONTHLY_LIMIT"); ok {
		cfg.Ledger.DefaultMonthlyLimit = v
	}
	if v := os.Getenv(envPrefix + "MEMORY_SHORT_TERM_DRIVER"); v != "" {
		cfg.Memory.ShortTerm.Driver = v
	}
	if v := os.Getenv(envPrefix + "REDIS_URL"); v != "" {
		cfg.Memory.ShortTerm.RedisURL = v
	}
	if v, ok := envDuration("MEMORY_SHORT_TERM_TTL"); ok {
		cfg.Memory.ShortTerm.TTL = v
	}
	if v := os.Getenv(envPrefix + "MEMORY_LONG_TERM_DRIVER"); v != "" {
		cfg.Memory.LongTerm.Driver = v
	}
	if v := os.Getenv(envPrefix + "MEMORY_LONG_TERM_PATH"); v != "" {
		cfg.Memory.LongTerm.Path = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(envPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(envPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(envPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: REAGENT_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		name := strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_"))
		if v := os.Getenv(fmt.Sprintf("%sLLM_PROVIDER_%s_API_KEY", envPrefix, name)); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(key string) (int64, bool) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
