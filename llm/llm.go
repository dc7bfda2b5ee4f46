// Package llm provides the chat-LLM clients used for both reply
// generation and memory scoring. Two providers are supported: the GLM
// OpenAI-compatible endpoint and Anthropic Claude.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyangfan/deepmemory/core"
)

// Message is one chat message in a request.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// Request is a single chat completion request.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Client is the narrow capability both the reply path and the scoring
// path need: one prompt in, one text out.
type Client interface {
	// Complete returns the model's text for the request.
	Complete(ctx context.Context, req Request) (string, error)

	// Model returns the configured model name, for /health reporting.
	Model() string
}

// wrapErr maps a transport error onto the typed kinds the rest of the
// system matches on.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrLLMTimeout, err)
	}
	return fmt.Errorf("%w: %v", core.ErrLLMUnavailable, err)
}
