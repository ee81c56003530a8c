package gen

import (
	"context"
	"log/slog"

	"github.com/vnmchuo/content-engine/internal/dispatch"
	"github.com/vnmchuo/content-engine/internal/provider"
)

// Style modifiers appended to image prompts before dispatch.
var styleModifiers = map[string]string{
	"photorealistic": ", highly detailed, photorealistic, 8k",
	"artistic":       ", artistic, creative, stylized",
	"minimalist":     ", clean, minimalist, simple",
	"professional":   ", professional, corporate, clean",
}

const DefaultStyle = "photorealistic"

type ImageGenerator struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func NewImageGenerator(d *dispatch.Dispatcher, logger *slog.Logger) *ImageGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageGenerator{dispatcher: d, logger: logger}
}

func (g *ImageGenerator) Generate(ctx context.Context, prompt, style string, opts Options) dispatch.Result {
	enhanced := EnhancePrompt(prompt, style)
	res := g.dispatcher.Dispatch(ctx, dispatch.Request{
		Capability: provider.CapabilityImage,
		Prompt:     prompt,
		Strategy:   opts.Strategy,
		MaxRetries: opts.MaxRetries,
		UseCache:   opts.UseCache,
		BuildPayload: func(name string) map[string]any {
			return ImagePayload(name, enhanced)
		},
	})
	g.logger.Info("generated image",
		"provider", res.Provider, "cached", res.Cached, "degraded", res.Degraded)
	return res
}

// GenerateAll produces one image per prompt, in input order. Each prompt is
// an independent dispatch, so failures degrade per image rather than
// failing the set.
func (g *ImageGenerator) GenerateAll(ctx context.Context, prompts []string, style string, opts Options) []dispatch.Result {
	results := make([]dispatch.Result, 0, len(prompts))
	for _, prompt := range prompts {
		results = append(results, g.Generate(ctx, prompt, style, opts))
	}
	return results
}

// EnhancePrompt appends the style's modifier to the prompt. Unknown styles
// leave the prompt untouched.
func EnhancePrompt(prompt, style string) string {
	return prompt + styleModifiers[style]
}

// ImagePayload shapes the request for a provider's image API.
func ImagePayload(providerName, prompt string) map[string]any {
	switch providerName {
	case "openai":
		return map[string]any{
			"model":  "dall-e-3",
			"prompt": prompt,
			"size":   "1024x1024",
		}
	case "imagen":
		return map[string]any{
			"prompt":      prompt,
			"aspectRatio": "1:1",
		}
	case "stability":
		return map[string]any{
			"text_prompts": []map[string]any{{"text": prompt}},
			"cfg_scale":    7,
			"samples":      1,
		}
	default:
		return map[string]any{"prompt": prompt}
	}
}
