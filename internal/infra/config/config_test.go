package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d, want 10", cfg.Agent.MaxIterations)
	}
	if cfg.Tools.DefaultTimeout != 5*time.Minute {
		t.Errorf("Tools.DefaultTimeout = %s, want 5m", cfg.Tools.DefaultTimeout)
	}
	if cfg.Memory.ShortTerm.TTL != 24*time.Hour {
		t.Errorf("ShortTerm.TTL = %s, want 24h", cfg.Memory.ShortTerm.TTL)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  max_iterations: 20
  system_prompt: "test bot"
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "ollama"
      model: "llama3"
      priority: 2
      retry:
        max_attempts: 4
        initial_delay: 250ms
      rate_limit:
        requests_per_minute: 30
    - name: "anthropic"
      api_key: "test-key"
      model: "claude-3-5-sonnet"
      enabled: false
ledger:
  default_daily_limit: 1000
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Agent.MaxIterations)
	}
	if len(cfg.LLM.Providers) != 2 {
		t.Fatalf("Providers = %d, want 2", len(cfg.LLM.Providers))
	}
	local := cfg.LLM.Providers[0]
	if local.Retry.MaxAttempts != 4 || local.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("retry = %+v", local.Retry)
	}
	if local.RateLimit.RequestsPerMinute != 30 {
		t.Errorf("rate_limit = %+v", local.RateLimit)
	}
	if !local.IsEnabled() {
		t.Error("provider without enabled flag should be enabled")
	}
	if cfg.LLM.Providers[1].IsEnabled() {
		t.Error("provider with enabled: false should be disabled")
	}
	if cfg.Ledger.DefaultDailyLimit != 1000 {
		t.Errorf("DefaultDailyLimit = %d, want 1000", cfg.Ledger.DefaultDailyLimit)
	}
	// Unset keys keep their defaults.
	if cfg.Ledger.DefaultMonthlyLimit != 2_000_000 {
		t.Errorf("DefaultMonthlyLimit = %d, want default", cfg.Ledger.DefaultMonthlyLimit)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  default_provider: "openai"
  providers:
    - name: "openai"
      model: "gpt-4o-mini"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REAGENT_LLM_PROVIDER_OPENAI_API_KEY=sk-from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides existing variables; register cleanup for the one it sets.
	t.Setenv("REAGENT_LLM_PROVIDER_OPENAI_API_KEY", "")
	os.Unsetenv("REAGENT_LLM_PROVIDER_OPENAI_API_KEY")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-from-dotenv" {
		t.Errorf("APIKey = %q, want value from .env", cfg.LLM.Providers[0].APIKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REAGENT_LLM_DEFAULT_PROVIDER", "ollama")
	t.Setenv("REAGENT_LOGGER_LEVEL", "debug")
	t.Setenv("REAGENT_TOOLS_MAX_WORKERS", "3")
	t.Setenv("REAGENT_MEMORY_SHORT_TERM_TTL", "2h")
	t.Setenv("REAGENT_LEDGER_DEFAULT_DAILY_LIMIT", "5000")
	t.Setenv("REAGENT_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REAGENT_TRACER_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.DefaultProvider != "ollama" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "ollama")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Tools.MaxWorkers != 3 {
		t.Errorf("MaxWorkers = %d, want 3", cfg.Tools.MaxWorkers)
	}
	if cfg.Memory.ShortTerm.TTL != 2*time.Hour {
		t.Errorf("TTL = %s, want 2h", cfg.Memory.ShortTerm.TTL)
	}
	if cfg.Ledger.DefaultDailyLimit != 5000 {
		t.Errorf("DefaultDailyLimit = %d", cfg.Ledger.DefaultDailyLimit)
	}
	if cfg.Memory.ShortTerm.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Memory.ShortTerm.RedisURL)
	}
	if !cfg.Tracer.Enabled {
		t.Error("Tracer.Enabled should be true")
	}
}

func TestEnvOverridesIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REAGENT_TOOLS_MAX_WORKERS", "many")
	t.Setenv("REAGENT_LLM_COOLDOWN", "soon")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Tools.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want default 8", cfg.Tools.MaxWorkers)
	}
	if cfg.LLM.Cooldown != time.Minute {
		t.Errorf("Cooldown = %s, want default 1m", cfg.LLM.Cooldown)
	}
}

func TestApplyEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("REAGENT_LLM_PROVIDER_MY_OPENAI_API_KEY", "sk-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "my-openai", Type: "openai"}}
	ApplyEnvOverrides(cfg)

	if cfg.LLM.Providers[0].APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.Providers[0].APIKey, "sk-env")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	for _, in := range []string{"no-separator", "zz:00", "00:zz", "00:00"} {
		if _, err := DecryptValue(in, "p"); err == nil {
			t.Errorf("DecryptValue(%q) expected error", in)
		}
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, err := EncryptValue("sk-secret123456", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	encURL, err := EncryptValue("redis://:pw@host:6379/0", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "enc:" + encKey},
		{Name: "anthropic", APIKey: "sk-plain"},
	}
	cfg.Memory.ShortTerm.RedisURL = "enc:" + encURL

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "sk-plain" {
		t.Errorf("plain APIKey should remain unchanged")
	}
	if cfg.Memory.ShortTerm.RedisURL != "redis://:pw@host:6379/0" {
		t.Errorf("RedisURL = %q", cfg.Memory.ShortTerm.RedisURL)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "openai", APIKey: "enc:notvalidhex"}}

	if err := decryptSecrets(cfg, "passphrase"); err == nil {
		t.Error("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "test-load-key"
	encrypted, err := EncryptValue("sk-loadtest", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  providers:
    - name: "openai"
      api_key: "enc:` + encrypted + `"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REAGENT_CONFIG_KEY", passphrase)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-loadtest" {
		t.Errorf("APIKey = %q, want %q", cfg.LLM.Providers[0].APIKey, "sk-loadtest")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insecure.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidatePermissions(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		mode    os.FileMode
		wantErr bool
	}{
		{0600, false},
		{0644, false},
		{0664, true},
		{0666, true},
	}
	for _, tt := range tests {
		path := filepath.Join(dir, tt.mode.String())
		if err := os.WriteFile(path, nil, 0600); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(path, tt.mode); err != nil {
			t.Fatal(err)
		}
		err := validatePermissions(path)
		if (err != nil) != tt.wantErr {
			t.Errorf("mode %o: err = %v, wantErr %v", tt.mode, err, tt.wantErr)
		}
	}
}
