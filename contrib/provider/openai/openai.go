package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/memory"
)

// Config holds OpenAI provider configuration. A custom base URL points
// the provider at any OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns sensible defaults for report generation.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gpt-4o",
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// WithBaseURL sets a custom endpoint.
func (c *Config) WithBaseURL(baseURL string) *Config {
	c.BaseURL = baseURL
	return c
}

// WithModel sets the model.
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// Provider implements agent.LLMClient over the OpenAI chat API.
type Provider struct {
	config *Config
	client openaisdk.Client
}

// New creates an OpenAI provider.
func New(config *Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: openaisdk.NewClient(opts...),
	}
}

func (p *Provider) Generate(ctx context.Context, turns []memory.Turn) (memory.Turn, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case memory.RoleSystem:
			messages = append(messages, openaisdk.SystemMessage(t.Content))
		case memory.RoleAgent:
			messages = append(messages, openaisdk.AssistantMessage(t.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(t.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(p.config.Model),
		Messages: messages,
	}
	if p.config.Temperature > 0 {
		params.Temperature = openaisdk.Float(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(p.config.MaxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return memory.Turn{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return memory.Turn{}, errors.New("openai returned no choices")
	}
	return memory.Turn{Role: memory.RoleAgent, Content: resp.Choices[0].Message.Content}, nil
}

// SetTemperature updates the sampling temperature.
func (p *Provider) SetTemperature(temp float64) {
	p.config.Temperature = temp
}

// SetMaxTokens updates the completion token limit.
func (p *Provider) SetMaxTokens(max int64) {
	p.config.MaxTokens = max
}

// SetModel updates the model.
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

var _ agent.LLMClient = (*Provider)(nil)
