package main

import (
	"fmt"
	"log/slog"
	"time"

	"reagent/internal/adapter/tool"
	"reagent/internal/domain"
	"reagent/internal/infra/config"
	"reagent/internal/infra/logger"
	"reagent/internal/usecase"
)

// Runtime holds the wired agent components.
type Runtime struct {
	Engine *usecase.Engine
	Ledger *usecase.Ledger
	States *usecase.StateManager
	Tools  *tool.Executor
	// Mailbox serializes work per conversation; the janitor evicts through it.
	Mailbox *usecase.Mailbox
}

// initAgent registers the built-in tools and builds the ledger, state
// manager and engine.
func initAgent(cfg *config.Config, gateway usecase.ModelGateway, stores *Stores, log *slog.Logger, onAsync func(*domain.AgentResponse)) (*Runtime, error) {
	// 1. Tools
	registry := tool.NewRegistry(logger.Component(log, "tools"), tool.WithDefaultTimeout(cfg.Tools.DefaultTimeout))
	for _, t := range []domain.Tool{
		tool.NewCalculatorTool(),
		tool.NewCurrentTimeTool(time.Now),
		tool.NewMemorySearchTool(stores.LongTerm),
	} {
		if err := registry.RegisterTool(t); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", t.Name(), err)
		}
	}
	executor := tool.NewExecutor(registry, cfg.Tools.MaxWorkers, logger.Component(log, "tools"))

	// 2. Ledger
	ledger := usecase.NewLedger(stores.Usage, stores.Budgets, usecase.NewPricing(), logger.Component(log, "ledger"),
		usecase.WithDefaultBudget(cfg.Ledger.DefaultDailyLimit, cfg.Ledger.DefaultMonthlyLimit),
		usecase.WithConversationLimits(domain.TokenLimits{
			MaxTokensPerConversation: cfg.Ledger.MaxTokensPerConversation,
			MaxTokensPerRequest:      cfg.Ledger.MaxTokensPerRequest,
		}),
	)

	// 3. Conversation state
	states := usecase.NewStateManager(stores.ShortTerm, logger.Component(log, "state"),
		usecase.WithStateTTL(cfg.Memory.ShortTerm.TTL),
		usecase.WithArchive(stores.LongTerm),
	)

	// 4. Engine
	engineLog := logger.Component(log, "engine")
	mailbox := usecase.NewMailbox(usecase.DefaultMailboxIdle, engineLog)
	engine := usecase.NewEngine(usecase.EngineDeps{
		Gateway:            gateway,
		Tools:              executor,
		Ledger:             ledger,
		States:             states,
		Mailbox:            mailbox,
		Prompts:            usecase.NewPromptBuilder(0),
		Logger:             engineLog,
		MaxConcurrentTurns: cfg.Agent.MaxConcurrentTurns,
		TurnTimeout:        cfg.Agent.TurnTimeout,
		NativeTools:        cfg.Agent.NativeTools,
		OnAsyncResponse:    onAsync,
	})

	return &Runtime{Engine: engine, Ledger: ledger, States: states, Tools: executor, Mailbox: mailbox}, nil
}

// agentContext builds the per-turn agent settings from config.
func agentContext(cfg *config.Config, provider, user string) domain.AgentContext {
	model := ""
	for _, p := range cfg.LLM.Providers {
		if p.Name == provider {
			model = p.Model
			break
		}
	}
	return domain.AgentContext{
		AgentID:       cfg.Agent.ID,
		UserID:        user,
		Provider:      provider,
		Model:         model,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		Temperature:   cfg.Agent.Temperature,
		MaxTokens:     cfg.Agent.MaxTokens,
		Tools:         cfg.Agent.Tools,
		Limits: domain.TokenLimits{
			MaxTokensPerConversation: cfg.Ledger.MaxTokensPerConversation,
			MaxTokensPerRequest:      cfg.Ledger.MaxTokensPerRequest,
		},
	}
}
