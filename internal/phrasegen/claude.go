package phrasegen

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const systemPrompt = `You generate short phrases for an AAC (augmentative and
alternative communication) user. Phrases must be first-person, everyday
spoken language a person would tap to say aloud. Keep each phrase under ten
words. Output one phrase per line with no numbering, bullets, or commentary.`

// ClaudeGenerator produces context packs via the Anthropic API.
type ClaudeGenerator struct {
	client anthropic.Client
	model  anthropic.Model
	logger *log.Logger
}

// ClaudeOption configures a ClaudeGenerator.
type ClaudeOption func(*ClaudeGenerator)

// WithModel overrides the default model.
func WithModel(model anthropic.Model) ClaudeOption {
	return func(g *ClaudeGenerator) { g.model = model }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) ClaudeOption {
	return func(g *ClaudeGenerator) { g.logger = logger }
}

// NewClaudeGenerator creates a generator using the given API key.
func NewClaudeGenerator(apiKey string, opts ...ClaudeOption) *ClaudeGenerator {
	g := &ClaudeGenerator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.ModelClaude3_5HaikuLatest,
		logger: log.New(os.Stderr, "[phrasegen] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the model for limit phrases relevant to scenario. On any API
// or parse failure it falls back to the embedded pack for the scenario so a
// context pack is always produced.
func (g *ClaudeGenerator) Generate(ctx context.Context, scenario string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultPackSize
	}

	prompt := fmt.Sprintf("Generate %d phrases the user is likely to need in this situation: %s",
		limit, normalizeScenario(scenario))

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: 512,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		g.logger.Printf("WARNING: generation failed for %q, using built-in pack: %v", scenario, err)
		return StaticGenerator{}.Generate(ctx, scenario, limit)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
			text.WriteString("\n")
		}
	}

	phrases := parsePhrases(text.String(), limit)
	if len(phrases) == 0 {
		g.logger.Printf("WARNING: model returned no usable phrases for %q, using built-in pack", scenario)
		return StaticGenerator{}.Generate(ctx, scenario, limit)
	}
	return phrases, nil
}

// parsePhrases splits model output into at most limit cleaned phrases,
// dropping duplicates.
func parsePhrases(raw string, limit int) []string {
	var phrases []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(raw, "\n") {
		p := cleanPhrase(line)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		phrases = append(phrases, p)
		if limit > 0 && len(phrases) == limit {
			break
		}
	}
	return phrases
}
