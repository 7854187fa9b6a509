package completion

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/nova/internal/models"
	"go.uber.org/zap"
)

// OpenAICompleter talks to any OpenAI-compatible chat completions API (Groq by default).
type OpenAICompleter struct {
	client        *openai.Client
	provider      string
	apiKey        string
	model         string
	fallbackModel string
	maxTokens     int
	temperature   float64
	logger        *zap.Logger
}

func NewOpenAICompleter(provider string, cfg Config, logger *zap.Logger) *OpenAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger = logger.Named("completion")
	if cfg.APIKey == "" {
		logger.Error("Completion API key is not configured", zap.String("provider", provider))
	} else {
		logger.Info("Completion API key loaded",
			zap.String("provider", provider),
			zap.String("key", MaskKey(cfg.APIKey)))
	}

	return &OpenAICompleter{
		client:        openai.NewClientWithConfig(clientCfg),
		provider:      provider,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		logger:        logger,
	}
}

func (c *OpenAICompleter) Complete(ctx context.Context, segments []models.Segment) string {
	if c.apiKey == "" {
		return Fallback(Unauthorized, c.provider, c.fallbackModel)
	}

	messages := c.toMessages(withPreamble(segments))
	c.logger.Debug("Requesting chat completion",
		zap.String("model", c.model),
		zap.Int("messages", len(messages)))

	text, err := c.chat(ctx, c.model, messages)
	if err == nil {
		return text
	}

	category := c.classify(err)
	c.logger.Error("Chat completion failed",
		zap.Error(err),
		zap.String("model", c.model),
		zap.Stringer("category", category))

	if category == ModelUnavailable && c.fallbackModel != "" && c.fallbackModel != c.model {
		text, retryErr := c.chat(ctx, c.fallbackModel, messages)
		if retryErr == nil {
			return text
		}
		c.logger.Error("Fallback model failed",
			zap.Error(retryErr),
			zap.String("model", c.fallbackModel))
	}
	return Fallback(category, c.provider, c.fallbackModel)
}

func (c *OpenAICompleter) chat(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("completion returned empty content")
	}
	return text, nil
}

// toMessages flattens segments and maps the stored model role to "assistant".
func (c *OpenAICompleter) toMessages(segments []models.Segment) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(segments))
	for _, seg := range segments {
		role := openai.ChatMessageRoleAssistant
		switch seg.Role {
		case models.RoleUser:
			role = openai.ChatMessageRoleUser
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: seg.Text(),
		})
	}
	return messages
}

func (c *OpenAICompleter) classify(err error) Category {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if code, ok := apiErr.Code.(string); ok {
			msg = code + " " + msg
		}
		return Classify(apiErr.HTTPStatusCode, msg)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return Classify(reqErr.HTTPStatusCode, reqErr.Error())
	}
	return Classify(0, err.Error())
}

// ListModels returns the model ids the provider exposes, sorted.
func (c *OpenAICompleter) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Probe sends a one-word prompt to model and reports how it failed, if it did.
func (c *OpenAICompleter) Probe(ctx context.Context, model string) (string, Category, error) {
	text, err := c.chat(ctx, model, []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleUser,
		Content: "ping",
	}})
	if err != nil {
		return "", c.classify(err), err
	}
	return text, Unknown, nil
}
