package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/viva/internal/model"
)

// Gemini talks to Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	opts   Options
}

var _ Generator = (*Gemini)(nil)

// NewGemini creates a Gemini-backed generator. Call Close when done.
func NewGemini(ctx context.Context, apiKey, modelName string, opts Options) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini API key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: cl, model: strings.TrimSpace(modelName), opts: opts}, nil
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// Ping fetches the model metadata.
func (g *Gemini) Ping(ctx context.Context) error {
	if _, err := g.client.GenerativeModel(g.model).Info(ctx); err != nil {
		return fmt.Errorf("%w: gemini model info: %v", model.ErrUpstreamUnavailable, err)
	}
	return nil
}

// Generate sends prompt and concatenates the text parts of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.model)
	temp := g.opts.Temperature
	m.GenerationConfig = genai.GenerationConfig{Temperature: &temp}
	if g.opts.JSONMode {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", model.ErrUpstreamUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		slog.Warn("gemini returned no candidates", "model", g.model)
		return "", nil
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	raw := sb.String()
	slog.Debug("gemini response", "model", g.model, "chars", len(raw), "raw", raw)
	return raw, nil
}
