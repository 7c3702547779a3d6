package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/viva/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Generator is the single capability the adapters need from the upstream model:
// a prompt goes in, free text comes out.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f(ctx, prompt).
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Unavailable marks err as an upstream failure unless it already is one.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, model.ErrUpstreamUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
}

// Options tunes the upstream call.
type Options struct {
	Timeout     time.Duration // 0 means no client-side timeout
	Temperature float32
	JSONMode    bool // ask for a JSON object response where the backend supports it
}

// Client wraps an OpenAI-compatible API client (OpenAI, Ollama, LM Studio, vLLM).
type Client struct {
	api   *openai.Client
	model string
	opts  Options
}

var _ Generator = (*Client)(nil)

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts Options) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: opts.Timeout}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
		opts:  opts,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint is reachable by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: list models: %v", model.ErrUpstreamUnavailable, err)
	}
	return nil
}

// Generate sends prompt as a single user message and returns the raw reply.
// Any transport or API error is reported as model.ErrUpstreamUnavailable.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.opts.Temperature,
	}
	if c.opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: LLM API call: %v", model.ErrUpstreamUnavailable, err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("LLM returned no choices", "model", c.model)
		return "", nil
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", c.model, "elapsed", time.Since(start), "chars", len(raw), "raw", raw)
	return raw, nil
}
