package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lyangfan/deepmemory/core"
)

const defaultClaudeModel = "claude-sonnet-4-20250514"

// ClaudeClient talks to the Anthropic Messages API.
type ClaudeClient struct {
	client anthropic.Client
	model  string
}

// ClaudeConfig configures the Claude client.
type ClaudeConfig struct {
	APIKey string
	Model  string // defaults to claude-sonnet-4
}

// NewClaude creates a Claude chat client.
func NewClaude(cfg ClaudeConfig) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: LLM API key is required", core.ErrConfigInvalid)
	}
	if cfg.Model == "" {
		cfg.Model = defaultClaudeModel
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// Complete returns the model's text for the request. System messages are
// lifted into the Messages API system field; the rest map 1:1.
func (c *ClaudeClient) Complete(ctx context.Context, req Request) (string, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapErr(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("%w: no text content in response", core.ErrLLMUnavailable)
	}
	return text, nil
}

// Model returns the configured model name.
func (c *ClaudeClient) Model() string {
	return c.model
}
