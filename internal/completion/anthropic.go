package completion

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

// AnthropicCompleter uses the Claude Messages API. System segments are sent
// as system blocks; everything else alternates between user and assistant.
type AnthropicCompleter struct {
	client        *anthropic.Client
	apiKey        string
	model         string
	fallbackModel string
	maxTokens     int64
	temperature   float64
	logger        *zap.Logger
}

func NewAnthropicCompleter(cfg Config, logger *zap.Logger) *AnthropicCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicCompleter{
		client:        &client,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     int64(cfg.MaxTokens),
		temperature:   cfg.Temperature,
		logger:        logger.Named("completion"),
	}
}

func (c *AnthropicCompleter) Complete(ctx context.Context, segments []models.Segment) string {
	if c.apiKey == "" {
		return Fallback(Unauthorized, "Anthropic", c.fallbackModel)
	}

	system, messages := c.toParams(withPreamble(segments))
	text, err := c.send(ctx, c.model, system, messages)
	if err == nil {
		return text
	}

	category := c.classify(err)
	c.logger.Error("Claude completion failed",
		zap.Error(err),
		zap.String("model", c.model),
		zap.Stringer("category", category))

	if category == ModelUnavailable && c.fallbackModel != "" && c.fallbackModel != c.model {
		if text, retryErr := c.send(ctx, c.fallbackModel, system, messages); retryErr == nil {
			return text
		}
	}
	return Fallback(category, "Anthropic", c.fallbackModel)
}

func (c *AnthropicCompleter) send(ctx context.Context, model string, system []anthropic.TextBlockParam, messages []anthropic.MessageParam) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System:      system,
		Messages:    messages,
	})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, ""))
	if text == "" {
		return "", errors.New("completion returned no text")
	}
	return text, nil
}

func (c *AnthropicCompleter) toParams(segments []models.Segment) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, seg := range segments {
		text := seg.Text()
		switch seg.Role {
		case models.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: text})
		case models.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		default:
			if len(messages) == 0 {
				// The conversation must open with a user turn.
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock("(continuing our conversation)")))
			}
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		}
	}
	return system, messages
}

func (c *AnthropicCompleter) classify(err error) Category {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return Classify(apiErr.StatusCode, apiErr.Error())
	}
	return Classify(0, err.Error())
}
