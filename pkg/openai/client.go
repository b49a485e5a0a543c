// Package openai wraps sashabaranov/go-openai with the same small surface as
// pkg/anthropic so either provider can back the LLM completer.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/sashabaranov/go-openai"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gpt-4o-mini"

// Client defines the OpenAI operations used by prospect-cli.
type Client interface {
	CreateChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is a single chat completion request.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	// JSON asks the model for a JSON object reply.
	JSON bool
}

// ChatResponse is the first choice of a chat completion.
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StatusCode returns the HTTP status carried by a go-openai error, or 0.
func StatusCode(err error) int {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *sdk.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// ErrorCode returns the API error code (e.g. "insufficient_quota"), or "".
func ErrorCode(err error) string {
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Code == nil {
		return ""
	}
	return fmt.Sprint(apiErr.Code)
}

// Option configures the client.
type Option func(*sdk.ClientConfig)

// WithBaseURL sets a custom base URL (for testing or compatible gateways).
func WithBaseURL(url string) Option {
	return func(c *sdk.ClientConfig) {
		c.BaseURL = url
	}
}

type sdkClient struct {
	client *sdk.Client
}

// NewClient creates a new OpenAI client.
func NewClient(apiKey string, opts ...Option) Client {
	cfg := sdk.DefaultConfig(apiKey)
	for _, o := range opts {
		o(&cfg)
	}
	return &sdkClient{client: sdk.NewClientWithConfig(cfg)}
}

func (c *sdkClient) CreateChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	messages := make([]sdk.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, sdk.ChatCompletionMessage{Role: sdk.ChatMessageRoleUser, Content: req.User})

	chatReq := sdk.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &sdk.ChatCompletionResponseFormat{
			Type: sdk.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, eris.New("openai: empty choices")
	}

	zap.L().Debug("openai: usage",
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
