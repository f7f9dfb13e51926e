package reasoning

import (
	"context"
	"fmt"

	"familiar/internal/config"
	"familiar/internal/types"
)

// NewClient builds the configured reasoning client.
func NewClient(ctx context.Context, cfg config.ReasoningConfig) (types.ReasoningClient, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGenAIClient(ctx, GenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		})
	case "local":
		return NewLocalClient(LocalConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil
	default:
		return nil, fmt.Errorf("reasoning: unknown provider %q", cfg.Provider)
	}
}
