package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"reagent/internal/adapter/llm"
	"reagent/internal/adapter/memory"
	"reagent/internal/adapter/usage"
	"reagent/internal/domain"
	"reagent/internal/infra/config"
	"reagent/internal/infra/logger"
	"reagent/internal/usecase"
)

const doctorTimeout = 10 * time.Second

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM credentials", Fn: checkLLMAPIKey},
		{Name: "LLM providers", Fn: checkProviderHealth},
		{Name: "Short-term store", Fn: checkShortTermStore},
		{Name: "Long-term store", Fn: checkLongTermStore},
		{Name: "Ledger store", Fn: checkLedgerStore},
		{Name: "Cleanup schedule", Fn: checkCleanupSchedule},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	fmt.Println("reagent doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above before starting reagent.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nreagent should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file parses.
// A missing file is a warning since defaults and env vars still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the REAGENT_* environment variables",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults and environment", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// needsAPIKey reports whether a provider type authenticates with an API key.
// Bedrock uses the AWS credential chain and Ollama runs locally.
func needsAPIKey(providerType string) bool {
	switch providerType {
	case "bedrock", "ollama":
		return false
	default:
		return true
	}
}

// checkLLMAPIKey verifies every enabled provider that needs a key has one.
func checkLLMAPIKey(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		if needsAPIKey(p.Type) && p.APIKey == "" {
			missing = append(missing, p.Name)
			continue
		}
		ready = append(ready, p.Name)
	}

	switch {
	case len(ready) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no usable providers; missing API keys for: %s", strings.Join(missing, ", ")),
			Fix:     "Set keys via environment variables (e.g. REAGENT_LLM_PROVIDER_OPENAI_API_KEY)",
		}
	case len(missing) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("ready: [%s]; missing keys: [%s]", strings.Join(ready, ", "), strings.Join(missing, ", ")),
		}
	default:
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("credentials configured for: %s", strings.Join(ready, ", ")),
		}
	}
}

// checkProviderHealth builds the gateway and checks every provider.
func checkProviderHealth(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	gateway, err := llm.NewGatewayFromConfig(ctx, cfg.LLM, logger.Discard())
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot build LLM gateway: %v", err),
		}
	}
	return summarizeHealth(gateway.CheckAll(ctx))
}

func summarizeHealth(results []domain.ProviderHealth) CheckResult {
	if len(results) == 0 {
		return CheckResult{Status: StatusFail, Message: "no enabled providers"}
	}
	var healthy, degraded, down []string
	for _, h := range results {
		switch h.Status {
		case domain.HealthHealthy:
			healthy = append(healthy, fmt.Sprintf("%s (%dms)", h.Provider, h.Latency.Milliseconds()))
		case domain.HealthDegraded:
			degraded = append(degraded, h.Provider)
		default:
			down = append(down, fmt.Sprintf("%s: %s", h.Provider, h.Message))
		}
	}

	switch {
	case len(healthy) == 0 && len(degraded) == 0:
		return CheckResult{
			Status:  StatusFail,
			Message: "no provider reachable: " + strings.Join(down, "; "),
			Fix:     "Check network access, base URLs and API keys",
		}
	case len(down) > 0 || len(degraded) > 0:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("healthy: [%s]; degraded: [%s]; down: [%s]", strings.Join(healthy, ", "), strings.Join(degraded, ", "), strings.Join(down, "; ")),
		}
	default:
		return CheckResult{Status: StatusPass, Message: "healthy: " + strings.Join(healthy, ", ")}
	}
}

// checkShortTermStore pings Redis when it is the configured backend.
func checkShortTermStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Memory.ShortTerm.Driver != "redis" {
		return CheckResult{Status: StatusPass, Message: "in-memory (state is lost on restart)"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	rdb, err := memory.DialRedis(ctx, cfg.Memory.ShortTerm.RedisURL)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("redis unreachable: %v", err),
			Fix:     "Start Redis or set memory.short_term.redis_url",
		}
	}
	rdb.Close()
	return CheckResult{Status: StatusPass, Message: "redis reachable"}
}

// checkLongTermStore opens the SQLite archive when it is the configured backend.
func checkLongTermStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Memory.LongTerm.Driver != "sqlite" {
		return CheckResult{Status: StatusPass, Message: "in-memory (archive is lost on restart)"}
	}
	return checkSQLite(cfg.Memory.LongTerm.Path, func(path string) (func() error, error) {
		st, err := memory.OpenSQLiteLongTerm(path)
		if err != nil {
			return nil, err
		}
		return st.Close, nil
	})
}

// checkLedgerStore opens the SQLite usage ledger when it is the configured backend.
func checkLedgerStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Ledger.Driver != "sqlite" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "in-memory ledger (token budgets reset on restart)",
			Fix:     "Set ledger.driver: sqlite to persist usage",
		}
	}
	return checkSQLite(cfg.Ledger.Path, func(path string) (func() error, error) {
		st, err := usage.NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return st.Close, nil
	})
}

func checkSQLite(path string, open func(string) (func() error, error)) CheckResult {
	if err := ensureDir(path); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", filepath.Dir(path)),
		}
	}
	closeFn, err := open(path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", path, err),
			Fix:     "Check file permissions on the data directory",
		}
	}
	closeFn()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("sqlite at %s", path)}
}

// checkCleanupSchedule verifies the janitor schedule parses.
func checkCleanupSchedule(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if err := usecase.ValidateSchedule(cfg.Memory.CleanupSchedule); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     `Use a cron expression, a descriptor such as "@every 10m", or a duration`,
		}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Memory.CleanupSchedule}
}

// checkDiskSpace checks available disk space in the data directory.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.Ledger.Path != "" {
		dataDir = filepath.Dir(cfg.Ledger.Path)
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}
	return parseDiskUsage(string(out))
}

// parseDiskUsage grades df -h output by the use percentage of its last line.
func parseDiskUsage(out string) CheckResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available := fields[3]
	usePercent := fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	if pct >= 95 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move the data directory to a different partition",
		}
	}
	if pct >= 85 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
