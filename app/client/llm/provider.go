package llm

import (
	"context"
	"fmt"
	"log/slog"

	"negotiator/app/config"

	"github.com/samber/do"
)

// New picks the generation backend configured under llm.provider.
func New(di *do.Injector) (Generator, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.LLM.Provider {
	case "openai":
		slog.Info("Using OpenAI generation backend", "model", cfg.LLM.DefaultModel)
		return NewOpenAI(cfg.LLM.OpenAI), nil
	case "gemini":
		ctx := do.MustInvoke[context.Context](di)
		slog.Info("Using Gemini generation backend", "model", cfg.LLM.DefaultModel)
		return NewGemini(ctx, cfg.LLM.Gemini)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
