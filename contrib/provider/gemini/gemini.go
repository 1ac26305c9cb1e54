package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/fleetsense/fleetsense/agent"
	"github.com/fleetsense/fleetsense/memory"
)

// Config holds Gemini provider configuration.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// DefaultConfig returns sensible defaults for report generation.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-pro",
		MaxTokens:   2048,
		Temperature: 0.2,
	}
}

// Provider implements agent.LLMClient over the Gemini API.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

func (p *Provider) Generate(ctx context.Context, turns []memory.Turn) (memory.Turn, error) {
	model := p.client.GenerativeModel(p.config.Model)
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}

	// Gemini keeps the system instruction out of band; the remaining
	// turns collapse into a single prompt.
	var system []string
	var body strings.Builder
	for _, t := range turns {
		if t.Role == memory.RoleSystem {
			system = append(system, t.Content)
			continue
		}
		body.WriteString(t.Content)
		body.WriteString("\n")
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n"))},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(body.String()))
	if err != nil {
		return memory.Turn{}, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return memory.Turn{}, errors.New("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return memory.Turn{Role: memory.RoleAgent, Content: text.String()}, nil
}

// SetModel updates the model.
func (p *Provider) SetModel(model string) {
	p.config.Model = model
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

var _ agent.LLMClient = (*Provider)(nil)
