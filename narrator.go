package werewolf

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const narratorSystemPrompt = `You are a dramatic storyteller for a medieval werewolf game. When players are killed, you tell a short atmospheric story about their fate. Keep it to 2-3 sentences. Be gothic and dramatic, fitting for a village plagued by werewolves.`

// Narrator turns the night's events into a short atmospheric story.
// onChunk is called with each text chunk as it streams in.
type Narrator interface {
	Narrate(ctx context.Context, events []string, onChunk func(string)) (string, error)
}

type llmNarrator struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (n *llmNarrator) Narrate(ctx context.Context, events []string, onChunk func(string)) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, n.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			"Game events so far:\n"+strings.Join(events, "\n")+
				"\n\nTell a short dramatic story (2-3 sentences) about what just happened."),
	}

	var fullText strings.Builder
	opts := append(n.callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		text := string(chunk)
		fullText.WriteString(text)
		if onChunk != nil {
			onChunk(text)
		}
		return nil
	}))

	_, err := n.llm.GenerateContent(ctx, messages, opts...)
	return strings.TrimSpace(fullText.String()), err
}

func narratorCallOpts(cfg Config, logger zerolog.Logger) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.NarratorTemperature != "" {
		if f, err := strconv.ParseFloat(cfg.NarratorTemperature, 64); err == nil {
			opts = append(opts, llms.WithTemperature(f))
		} else {
			logger.Warn().Str("value", cfg.NarratorTemperature).Msg("invalid narrator temperature")
		}
	}
	return opts
}

// NewNarrator builds a narrator from config. A nil narrator with a nil
// error means the feature is disabled (no provider configured).
func NewNarrator(cfg Config, logger zerolog.Logger) (Narrator, error) {
	model := cfg.NarratorModel
	callOpts := narratorCallOpts(cfg, logger)

	var llm llms.Model
	var err error
	switch cfg.NarratorProvider {
	case "":
		logger.Info().Msg("narrator disabled (set narrator_provider to enable)")
		return nil, nil
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.NarratorOllamaURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(model))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(model))
	case "gemini":
		llm, err = googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		llm, err = openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.NarratorURL == "" {
			return nil, notAllowed("narrator_url is required for the openai-compatible provider")
		}
		providerOpts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.NarratorURL),
		}
		if cfg.NarratorAPIKey != "" {
			providerOpts = append(providerOpts, openai.WithToken(cfg.NarratorAPIKey))
		}
		llm, err = openai.New(providerOpts...)
	default:
		return nil, notAllowed("unknown narrator provider %q", cfg.NarratorProvider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("provider", cfg.NarratorProvider).Str("model", model).Msg("narrator ready")
	return &llmNarrator{llm: llm, systemPrompt: narratorSystemPrompt, callOpts: callOpts}, nil
}
