// Package gen holds the per-provider request shaping for text and image
// generation, plus the HTTP adapter that carries shaped payloads to the
// configured provider endpoints.
package gen

import (
	"context"
	"log/slog"

	"github.com/vnmchuo/content-engine/internal/dispatch"
	"github.com/vnmchuo/content-engine/internal/provider"
	"github.com/vnmchuo/content-engine/internal/selection"
)

// Options carry the dispatch knobs shared by both generators.
type Options struct {
	Strategy   selection.Policy
	MaxRetries int
	UseCache   bool
}

type TextGenerator struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewTextGenerator(d *dispatch.Dispatcher, logger *slog.Logger) *TextGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &TextGenerator{dispatcher: d, logger: logger}
}

func (g *TextGenerator) Generate(ctx context.Context, prompt string, opts Options) dispatch.Result {
	res := g.dispatcher.Dispatch(ctx, dispatch.Request{
		Capability: provider.CapabilityText,
		Prompt:     prompt,
		Strategy:   opts.Strategy,
		MaxRetries: opts.MaxRetries,
		UseCache:   opts.UseCache,
		BuildPayload: func(name string) map[string]any {
			return TextPayload(name, prompt)
		},
	})
	g.logger.Info("generated text",
		"chars", len(res.Content), "provider", res.Provider, "cached", res.Cached, "degraded", res.Degraded)
	return res
}

// TextPayload shapes the request for a provider's chat/completion API.
// Unknown providers get the bare prompt.
func TextPayload(providerName, prompt string) map[string]any {
	switch providerName {
	case "openai":
		return map[string]any{
			"model":    "gpt-4o-mini",
			"messages": []map[string]string{{"role": "user", "content": prompt}},
		}
	case "gemini":
		return map[string]any{
			"model":  "gemini-2.0-flash",
			"prompt": prompt,
		}
	case "anthropic":
		return map[string]any{
			"model":    "claude-3-5-sonnet-20241022",
			"messages": []map[string]string{{"role": "user", "content": prompt}},
		}
	default:
		return map[string]any{"prompt": prompt}
	}
}
