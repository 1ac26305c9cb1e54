package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/memory"
)

// Config holds Claude provider configuration.
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
		Model:       "claude-sonnet-4-5-20250929",
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// Provider implements agent.LLMClient over the Anthropic messages API.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a Claude provider using the official SDK.
func New(config *Config) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: anthropic.NewClient(opts...),
	}
}

func (p *Provider) Generate(ctx context.Context, turns []memory.Turn) (memory.Turn, error) {
	// System turns go into the dedicated system field; the rest become
	// the conversation.
	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case memory.RoleSystem:
			systemPrompts = append(systemPrompts, t.Content)
		case memory.RoleAgent:
			conversation = append(conversation,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Content)))
		default:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(t.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return memory.Turn{}, fmt.Errorf("claude message: %w", err)
	}

	var text strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	return memory.Turn{Role: memory.RoleAgent, Content: text.String()}, nil
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
