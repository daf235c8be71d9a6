// ABOUTME: Builds the configured reply source by provider name
// ABOUTME: echo needs nothing, gemini needs an API key and model

package reply

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/hago/internal/config"
)

// New returns the Source selected by cfg.Provider.
func New(ctx context.Context, cfg config.ReplyConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Provider {
	case config.ProviderEcho, "":
		return NewEcho(cfg.FragmentDelay, logger), nil
	case config.ProviderGemini:
		model := cfg.Model
		if model == "" {
			model = config.DefaultGeminiModel
		}
		return NewGemini(ctx, cfg.APIKey, model, logger)
	default:
		return nil, fmt.Errorf("unknown reply provider %q", cfg.Provider)
	}
}
