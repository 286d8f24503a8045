// Package vision produces natural-language captions for images through an
// OpenAI-compatible chat completions endpoint.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrUnavailable means no vision backend is configured.
var ErrUnavailable = errors.New("vision backend unavailable")

// Backend captions an image.
type Backend interface {
	Describe(ctx context.Context, image []byte, mime, prompt string, maxTokens int) (string, error)
}

// Config configures an OpenAIBackend.
type Config struct {
	Endpoint          string // Base URL; empty uses the OpenAI default
	Model             string
	APIKey            string
	RequestsPerSecond float64
	Burst             int
}

// OpenAIBackend calls a chat completions endpoint with the image inlined as
// a data URL. Requests are rate limited client-side.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIBackend builds a backend. An empty API key is an error: callers
// that want to run without captions should not register the vision wave's
// backend at all.
func NewOpenAIBackend(cfg Config) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key", ErrUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	log.Printf("[Vision] Using model %s", cfg.Model)
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

// FromEnv builds a backend reading the API key from the named environment
// variable.
func FromEnv(cfg Config, apiKeyEnv string) (*OpenAIBackend, error) {
	cfg.APIKey = os.Getenv(apiKeyEnv)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrUnavailable, apiKeyEnv)
	}
	return NewOpenAIBackend(cfg)
}

// Describe implements Backend.
func (b *OpenAIBackend) Describe(ctx context.Context, image []byte, mime, prompt string, maxTokens int) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}
	if mime == "" {
		mime = "image/png"
	}

	req := openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    DataURL(image, mime),
						Detail: openai.ImageURLDetailLow,
					},
				},
			},
		}},
	}
	if maxTokens > 0 {
		req.MaxTokens = maxTokens
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision backend returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// DataURL inlines data as a base64 data URL.
func DataURL(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
