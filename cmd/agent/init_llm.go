package main

import (
	"context"
	"fmt"
	"log/slog"

	"reagent/internal/adapter/llm"
	"reagent/internal/infra/config"
	"reagent/internal/infra/logger"
)

// initLLM builds the model gateway from the configured providers.
func initLLM(ctx context.Context, cfg *config.Config, log *slog.Logger) (*llm.Gateway, error) {
	if len(cfg.LLM.Providers) == 0 {
		return nil, fmt.Errorf("no llm providers configured")
	}
	gateway, err := llm.NewGatewayFromConfig(ctx, cfg.LLM, logger.Component(log, "gateway"))
	if err != nil {
		return nil, err
	}
	if len(gateway.AvailableProviders()) == 0 {
		return nil, fmt.Errorf("all llm providers are disabled")
	}
	return gateway, nil
}
