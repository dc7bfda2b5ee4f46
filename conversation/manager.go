// Package conversation orchestrates chat turns: buffering, retrieval,
// prompt assembly, reply generation and background memory extraction.
package conversation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/extract"
	"github.com/lyangfan/deepmemory/identity"
	"github.com/lyangfan/deepmemory/llm"
	"github.com/lyangfan/deepmemory/memory"
	"github.com/lyangfan/deepmemory/retrieval"
	"github.com/lyangfan/deepmemory/role"
)

// Options tunes the orchestrator.
type Options struct {
	// ExtractThreshold is the number of buffered turns between
	// extractions.
	ExtractThreshold int

	// MaxContextMemories caps the fragments injected into the prompt.
	MaxContextMemories int

	// Workers is the size of the background extraction pool.
	Workers int

	// QueueSize bounds the extraction job queue. A full queue drops the
	// trigger rather than delaying the reply.
	QueueSize int

	// ReplyTimeout bounds the reply-LLM call.
	ReplyTimeout time.Duration

	// ExtractTimeout bounds one background extraction run.
	ExtractTimeout time.Duration
}

// DefaultOptions returns the process defaults.
func DefaultOptions() Options {
	return Options{
		ExtractThreshold:   5,
		MaxContextMemories: 5,
		Workers:            4,
		QueueSize:          64,
		ReplyTimeout:       30 * time.Second,
		ExtractTimeout:     60 * time.Second,
	}
}

func (o *Options) fillDefaults() {
	def := DefaultOptions()
	if o.ExtractThreshold <= 0 {
		o.ExtractThreshold = def.ExtractThreshold
	}
	if o.MaxContextMemories <= 0 {
		o.MaxContextMemories = def.MaxContextMemories
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = def.QueueSize
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = def.ReplyTimeout
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = def.ExtractTimeout
	}
}

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID    string
	SessionID string
	RoleID    string
	Message   string

	// Username auto-creates the user when set and the user is unknown.
	Username string

	// ExtractNow forces extraction this turn regardless of the counter.
	ExtractNow bool

	// MinImportanceOverride and MaxContextMemoriesOverride tune
	// retrieval for this call only.
	MinImportanceOverride      *int
	MaxContextMemoriesOverride *int
}

// ChatResult is the outcome of one turn.
type ChatResult struct {
	Reply           string
	UserID          string
	SessionID       string
	RoleID          string
	MemoryExtracted bool
	MessageCount    int
	FragmentsUsed   int
}

// Manager is the turn orchestrator. One instance serves all sessions;
// turns within a session are serialized, sessions run in parallel.
type Manager struct {
	users     *identity.UserManager
	sessions  *identity.SessionManager
	store     memory.Store
	retriever *retrieval.Retriever
	replyLLM  llm.Client
	extractor *extract.Engine
	roles     *role.Registry
	opts      Options

	states *sessionStates
	pool   *extractPool
}

// New creates a Manager and starts its extraction worker pool.
func New(
	users *identity.UserManager,
	sessions *identity.SessionManager,
	store memory.Store,
	retriever *retrieval.Retriever,
	replyLLM llm.Client,
	extractor *extract.Engine,
	roles *role.Registry,
	opts Options,
) *Manager {
	opts.fillDefaults()
	m := &Manager{
		users:     users,
		sessions:  sessions,
		store:     store,
		retriever: retriever,
		replyLLM:  replyLLM,
		extractor: extractor,
		roles:     roles,
		opts:      opts,
		states:    newSessionStates(),
	}
	m.pool = newExtractPool(m, opts.Workers, opts.QueueSize)
	return m
}

// Close drains the extraction pool. Scheduled jobs run to completion.
func (m *Manager) Close() {
	m.pool.close()
}

// Chat processes one user turn and returns the reply. Extraction, when
// triggered, is scheduled on the worker pool and never delays the reply.
func (m *Manager) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	profile, err := m.roles.Get(req.RoleID)
	if err != nil {
		return nil, err
	}

	var user *identity.User
	if req.Username != "" {
		user, err = m.users.GetOrCreate(req.Username, req.UserID)
	} else {
		user, err = m.users.Get(req.UserID)
	}
	if err != nil {
		return nil, err
	}

	var session *identity.Session
	if req.SessionID == "" {
		session, err = m.sessions.Create(user.UserID, "")
	} else {
		session, err = m.sessions.Get(req.SessionID)
	}
	if err != nil {
		return nil, err
	}

	scope := core.Scope{UserID: user.UserID, SessionID: session.SessionID, RoleID: profile.RoleID}

	// Serialize turns per session so buffer and counter stay coherent.
	state := m.states.get(session.SessionID)
	state.mu.Lock()
	defer state.mu.Unlock()

	// History tail is snapshotted before this turn's message lands so
	// the user text appears exactly once in the prompt.
	history := state.history(10)

	userMsg := core.Message{
		MessageID: uuid.New().String(),
		SessionID: session.SessionID,
		Role:      core.SpeakerUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	}
	state.append(userMsg)
	if err := m.sessions.AppendMessage(session.SessionID, userMsg); err != nil {
		log.Printf("[CHAT] persist user message: %v", err)
	}

	// Retrieval failures degrade to an empty context; the conversation
	// must survive a broken memory layer.
	retrCfg := m.retrievalConfig(req)
	results, err := m.retriever.Select(ctx, scope, req.Message, &retrCfg)
	if err != nil {
		log.Printf("[CHAT] retrieval failed for %s: %v", scope, err)
		results = nil
	}

	messages := m.buildPrompt(profile, results, history, req.Message)

	replyCtx, cancel := context.WithTimeout(ctx, m.opts.ReplyTimeout)
	defer cancel()
	reply, err := m.replyLLM.Complete(replyCtx, llm.Request{
		Messages:    messages,
		Temperature: 0.8,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)

	assistantMsg := core.Message{
		MessageID: uuid.New().String(),
		SessionID: session.SessionID,
		Role:      core.SpeakerAssistant,
		Content:   reply,
		Timestamp: time.Now(),
	}
	state.append(assistantMsg)
	if err := m.sessions.AppendMessage(session.SessionID, assistantMsg); err != nil {
		log.Printf("[CHAT] persist assistant message: %v", err)
	}
	state.turns++

	scheduled := false
	if req.ExtractNow || state.turns%m.opts.ExtractThreshold == 0 {
		// Window covers both sides of the last threshold turns.
		window := state.tail(m.opts.ExtractThreshold * 2)
		scheduled = m.pool.schedule(scope, window)
	}

	updated, err := m.sessions.Get(session.SessionID)
	messageCount := 0
	if err == nil {
		messageCount = updated.MessageCount
	}

	return &ChatResult{
		Reply:           reply,
		UserID:          user.UserID,
		SessionID:       session.SessionID,
		RoleID:          profile.RoleID,
		MemoryExtracted: scheduled,
		MessageCount:    messageCount,
		FragmentsUsed:   len(results),
	}, nil
}

func (m *Manager) retrievalConfig(req ChatRequest) retrieval.Config {
	cfg := retrieval.DefaultConfig()
	cfg.TopK = m.opts.MaxContextMemories
	if req.MaxContextMemoriesOverride != nil && *req.MaxContextMemoriesOverride > 0 {
		cfg.TopK = *req.MaxContextMemoriesOverride
	}
	if req.MinImportanceOverride != nil && *req.MinImportanceOverride > 0 {
		cfg.MinImportance = *req.MinImportanceOverride
	}
	return cfg
}

// buildPrompt assembles the reply request: persona system prompt plus
// memory block, few-shot exemplars, history tail, then the user text.
func (m *Manager) buildPrompt(profile *role.Profile, memories []retrieval.Result, history []core.Message, userText string) []llm.Message {
	var system strings.Builder
	system.WriteString(profile.SystemPrompt)

	if block := memoryBlock(memories); block != "" {
		system.WriteString("\n\n")
		system.WriteString(block)
	}
	if len(profile.HighFrequencyVocab) > 0 {
		system.WriteString("\n\n回复时可以自然使用这些常用表达：")
		system.WriteString(strings.Join(profile.HighFrequencyVocab, "、"))
	}
	if len(profile.ForbiddenVocab) > 0 {
		system.WriteString("\n回复中避免使用：")
		system.WriteString(strings.Join(profile.ForbiddenVocab, "、"))
	}

	messages := []llm.Message{{Role: "system", Content: system.String()}}

	for _, ex := range profile.FewShotExamples {
		messages = append(messages,
			llm.Message{Role: "user", Content: ex.User},
			llm.Message{Role: "assistant", Content: ex.Assistant},
		)
	}

	for _, msg := range history {
		messages = append(messages, llm.Message{Role: string(msg.Role), Content: msg.Content})
	}

	messages = append(messages, llm.Message{Role: "user", Content: userText})
	return messages
}

// memoryBlock renders the retrieved fragments grouped by origin so the
// model can tell user facts from its own past commitments.
func memoryBlock(memories []retrieval.Result) string {
	if len(memories) == 0 {
		return ""
	}

	var userLines, assistantLines []string
	for _, r := range memories {
		line := fmt.Sprintf("- %s (重要性: %d/10, 类型: %s)",
			r.Fragment.Content, r.Fragment.ImportanceScore, r.Fragment.Type)
		if r.Fragment.Speaker == core.SpeakerAssistant {
			assistantLines = append(assistantLines, line)
		} else {
			userLines = append(userLines, line)
		}
	}

	var b strings.Builder
	b.WriteString("## 记忆")
	if len(userLines) > 0 {
		b.WriteString("\n\n### 关于用户的重要记忆\n")
		b.WriteString(strings.Join(userLines, "\n"))
	}
	if len(assistantLines) > 0 {
		b.WriteString("\n\n### 你之前的承诺与建议\n")
		b.WriteString(strings.Join(assistantLines, "\n"))
	}
	b.WriteString("\n\n在回复中自然地体现这些记忆，不要逐条复述。")
	return b.String()
}
