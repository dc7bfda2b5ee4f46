package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lyangfan/deepmemory/core"
)

const (
	glmBaseURL      = "https://open.bigmodel.cn/api/paas/v4"
	defaultGLMModel = "glm-4-flash"
)

// GLMClient talks to the Zhipu AI chat API through its OpenAI-compatible
// surface.
type GLMClient struct {
	client *openai.Client
	model  string
}

// GLMConfig configures the GLM client.
type GLMConfig struct {
	APIKey  string
	Model   string // defaults to glm-4-flash
	BaseURL string // defaults to the Zhipu endpoint
}

// NewGLM creates a GLM chat client.
func NewGLM(cfg GLMConfig) (*GLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: LLM API key is required", core.ErrConfigInvalid)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGLMModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = glmBaseURL
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	return &GLMClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

// Complete returns the model's text for the request.
func (c *GLMClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", core.ErrLLMUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Model returns the configured model name.
func (c *GLMClient) Model() string {
	return c.model
}
