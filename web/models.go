package web

import (
	"time"

	"github.com/lyangfan/deepmemory/core"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id,omitempty"`
	RoleID     string `json:"role_id,omitempty"`
	Message    string `json:"message"`
	Username   string `json:"username,omitempty"`
	ExtractNow bool   `json:"extract_now,omitempty"`
}

// ChatResponse is the body of POST /v1/chat.
type ChatResponse struct {
	Response        string `json:"response"`
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	RoleID          string `json:"role_id"`
	MemoryExtracted bool   `json:"memory_extracted"`
	MessageCount    int    `json:"message_count"`
	FragmentsUsed   int    `json:"fragments_used"`
}

// CompletionRequest is the OpenAI-compatible body of
// POST /v1/chat/completions.
type CompletionRequest struct {
	Model    string              `json:"model,omitempty"`
	Messages []CompletionMessage `json:"messages"`
	User     string              `json:"user,omitempty"`
	// SessionID is a DeepMemory extension carried alongside the
	// standard fields.
	SessionID string `json:"session_id,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
}

// CompletionMessage is one OpenAI-shaped chat message.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse mirrors the OpenAI chat completion shape for a
// single turn.
type CompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   CompletionUsage    `json:"usage"`
}

// CompletionChoice is one returned choice.
type CompletionChoice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionUsage is reported as zeros; upstream usage is not plumbed
// through.
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// MemoryItem is one fragment in a GET /v1/memories listing.
type MemoryItem struct {
	FragmentID      string            `json:"fragment_id"`
	Content         string            `json:"content"`
	Speaker         string            `json:"speaker"`
	Type            string            `json:"type"`
	Sentiment       string            `json:"sentiment"`
	Entities        []string          `json:"entities,omitempty"`
	Topics          []string          `json:"topics,omitempty"`
	ImportanceScore int               `json:"importance_score"`
	Confidence      float64           `json:"confidence"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func memoryItem(frag core.Fragment) MemoryItem {
	return MemoryItem{
		FragmentID:      frag.ID,
		Content:         frag.Content,
		Speaker:         string(frag.Speaker),
		Type:            string(frag.Type),
		Sentiment:       string(frag.Sentiment),
		Entities:        frag.Entities,
		Topics:          frag.Topics,
		ImportanceScore: frag.ImportanceScore,
		Confidence:      frag.Confidence,
		Timestamp:       frag.Timestamp,
		Metadata:        frag.Metadata,
	}
}

// MemoriesResponse is the body of GET /v1/memories.
type MemoriesResponse struct {
	Memories   []MemoryItem `json:"memories"`
	TotalCount int          `json:"total_count"`
}

// UserCreateRequest is the body of POST /v1/users.
type UserCreateRequest struct {
	Username string `json:"username"`
	UserID   string `json:"user_id,omitempty"`
}

// SessionCreateRequest is the body of POST /v1/sessions.
type SessionCreateRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title,omitempty"`
}

// RoleItem is one persona in GET /v1/roles.
type RoleItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Style       string `json:"style"`
	Tone        string `json:"tone"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Environment    string `json:"environment"`
	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
