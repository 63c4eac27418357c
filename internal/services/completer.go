package services

import (
	"context"

	"azure-search-mcp/internal/config"
	"azure-search-mcp/internal/logging"
)

// NewCompleter builds the configured LLM collaborator. It returns nil, and
// no error, when no provider has credentials: the formatter then uses its
// deterministic fallback.
func NewCompleter(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Completer, error) {
	if !cfg.LLMEnabled() {
		logger.Warn("No LLM credentials configured, responses will use the plain listing", "provider", cfg.LLM.Provider)
		return nil, nil
	}

	switch cfg.LLM.Provider {
	case "openai":
		c, err := NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.OpenAI.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			Temperature: cfg.OpenAI.Temperature,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("LLM enhancement enabled", "completer", c.Name())
		return c, nil
	default:
		c, err := NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("LLM enhancement enabled", "completer", c.Name())
		return c, nil
	}
}
