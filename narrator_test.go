package werewolf

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel streams a canned story chunk by chunk.
type fakeModel struct {
	chunks []string
	prompt string
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	for _, mc := range messages {
		for _, part := range mc.Parts {
			if text, ok := part.(llms.TextContent); ok {
				m.prompt += text.Text
			}
		}
	}
	for _, chunk := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	full := strings.Join(m.chunks, "")
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return strings.Join(m.chunks, ""), nil
}

func TestNarratorStreamsStory(t *testing.T) {
	model := &fakeModel{chunks: []string{"The wolves ", "took henk ", "in the night."}}
	narrator := &llmNarrator{llm: model, systemPrompt: narratorSystemPrompt}

	var streamed []string
	story, err := narrator.Narrate(context.Background(), []string{"henk is dead"}, func(chunk string) {
		streamed = append(streamed, chunk)
	})
	if err != nil {
		t.Fatalf("narrating: %v", err)
	}
	if story != "The wolves took henk in the night." {
		t.Fatalf("unexpected story: %q", story)
	}
	if len(streamed) != len(model.chunks) {
		t.Fatalf("expected %d streamed chunks, got %d", len(model.chunks), len(streamed))
	}
	if !strings.Contains(model.prompt, "henk is dead") {
		t.Fatal("the event list must reach the model prompt")
	}
}

func TestNewNarratorDisabledWithoutProvider(t *testing.T) {
	narrator, err := NewNarrator(DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("unconfigured narrator must not error: %v", err)
	}
	if narrator != nil {
		t.Fatal("unconfigured narrator must be nil (feature disabled)")
	}
}

func TestNewNarratorRejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NarratorProvider = "smoke-signals"
	if _, err := NewNarrator(cfg, zerolog.Nop()); err == nil {
		t.Fatal("an unknown provider must be rejected")
	}
}
