// Package completion turns a role-tagged context into a single reply.
//
// Completers never return errors: provider failures are classified and mapped
// to a fallback reply, so a turn always has something to persist.
package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

// Preamble is prepended as the first segment of every completion call.
const Preamble = `You are Nova, a helpful and friendly AI brainstorming companion. Your personality and guidelines:

1. **Helpful & Supportive**: You provide thoughtful, actionable advice and ideas. You're genuinely interested in helping the user succeed.

2. **Brainstorming Friend**: You encourage creative thinking, offer multiple perspectives, and help users explore ideas without judgment. You ask clarifying questions to better understand their needs.

3. **Friendly Tone**: You communicate warmly and conversationally. Use casual language, be approachable, and make the user feel comfortable sharing ideas with you.

4. **Multilingual**:
   - Respond in **English** for most conversations and technical topics.
   - Switch to **Hindi** when the user asks in Hindi or when it makes complex topics more understandable for them.
   - Seamlessly blend both languages if the user mixes them.

5. **Your Name**: You are **Nova**. Feel free to introduce yourself naturally in conversations if asked.

6. **Context Aware**: Remember previous points in the conversation and build on them. Use context to provide relevant follow-ups.

7. **Concise yet Thorough**: Keep responses clear and organized. Use bullet points or numbered lists when helpful. Avoid unnecessary jargon unless the user uses it.

8. **Emoji & Personality**: Use occasional emojis to add warmth and personality (but not excessively).

Remember: You're a brainstorming partner, not a lecture. Engage collaboratively!`

type Completer interface {
	Complete(ctx context.Context, segments []models.Segment) string
}

type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	Model         string
	FallbackModel string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

const (
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama-3.1-8b-instant"

	// Models named in the model-unavailable reply when none is configured.
	DefaultGroqFallbackModel      = "llama-3.3-70b-versatile"
	DefaultOpenAIFallbackModel    = "gpt-3.5-turbo"
	DefaultAnthropicFallbackModel = "claude-3-haiku-20240307"
)

// New returns the completer named by cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Completer, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultGroqModel
		}
		if cfg.FallbackModel == "" {
			cfg.FallbackModel = DefaultGroqFallbackModel
		}
		return NewOpenAICompleter("Groq", cfg, logger), nil
	case "openai":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		if cfg.FallbackModel == "" {
			cfg.FallbackModel = DefaultOpenAIFallbackModel
		}
		return NewOpenAICompleter("OpenAI", cfg, logger), nil
	case "anthropic":
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
		if cfg.FallbackModel == "" {
			cfg.FallbackModel = DefaultAnthropicFallbackModel
		}
		return NewAnthropicCompleter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
}

// withPreamble returns the context the provider actually receives.
func withPreamble(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(segments)+1)
	out = append(out, models.NewSegment(models.RoleSystem, Preamble))
	return append(out, segments...)
}

// MaskKey renders a credential safe for logs.
func MaskKey(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:6] + "..." + key[len(key)-6:]
}
