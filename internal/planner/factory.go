// File: internal/planner/factory.go
package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

// New is a factory function that creates a Planner based on the configuration.
// The static provider starts with an empty plan.
func New(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger, metrics *observability.Metrics) (Planner, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg, logger, metrics)
	case config.ProviderStatic:
		return &Static{}, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported planner provider configured: '%s'. Supported: [%s, %s]", cfg.Provider, config.ProviderGemini, config.ProviderStatic)
	}
}
