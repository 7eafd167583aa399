package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mikey/mail2cal/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You extract calendar events from emails. Respond only with JSON."

// OpenAIClient is an implementation of the LLMClient interface for any
// OpenAI-compatible chat completion API, OpenRouter included
type OpenAIClient struct {
	client      *openai.Client
	modelName   string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(
	client *openai.Client,
	modelName string,
	maxTokens int,
	temperature float32,
	topP float32,
	logger *zap.Logger,
) *OpenAIClient {
	return &OpenAIClient{
		client:      client,
		modelName:   modelName,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		logger:      logger,
	}
}

// ModelName returns the configured model
func (c *OpenAIClient) ModelName() string {
	return c.modelName
}

// Complete sends the prompt as a chat completion and returns the answer text
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &core.ValidationError{Reason: "empty response from model"}
	}

	c.logger.Debug("Chat completion finished",
		zap.String("model", c.modelName),
		zap.String("id", resp.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return resp.Choices[0].Message.Content, nil
}

// classifyError maps provider failures onto the shared error taxonomy
func classifyError(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &core.AuthError{Backend: "openai", Err: err}
	case http.StatusTooManyRequests:
		return &core.TransportError{Op: "llm.complete", RateLimited: true, Err: err}
	default:
		return &core.TransportError{Op: "llm.complete", Err: fmt.Errorf("failed to create chat completion: %w", err)}
	}
}
