package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/extract"
	"github.com/lyangfan/deepmemory/identity"
	"github.com/lyangfan/deepmemory/llm"
	"github.com/lyangfan/deepmemory/memory"
	"github.com/lyangfan/deepmemory/memory/embedder/simple"
	chromemstore "github.com/lyangfan/deepmemory/memory/store/chromem"
	"github.com/lyangfan/deepmemory/retrieval"
	"github.com/lyangfan/deepmemory/role"
)

// routedLLM routes scoring calls (recognized by the extraction system
// prompt) to a canned JSON response and reply calls to a fixed reply,
// recording the last reply request for prompt assertions.
type routedLLM struct {
	mu           sync.Mutex
	reply        string
	extractJSON  string
	extractDelay time.Duration
	extractCalls int
	lastReplyReq llm.Request
}

func (f *routedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	if len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "记忆分析助手") {
		f.mu.Lock()
		f.extractCalls++
		delay := f.extractDelay
		f.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if f.extractJSON == "" {
			return `{"fragments": []}`, nil
		}
		return f.extractJSON, nil
	}

	f.mu.Lock()
	f.lastReplyReq = req
	reply := f.reply
	f.mu.Unlock()
	if reply == "" {
		reply = "好的，我在呢。"
	}
	return reply, nil
}

func (f *routedLLM) Model() string { return "routed" }

func (f *routedLLM) replyRequest() llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReplyReq
}

func testRoles(t *testing.T) *role.Registry {
	t.Helper()
	dir := t.TempDir()
	for _, id := range []string{"companion_warm", "mentor_rational"} {
		data := fmt.Sprintf(`{"role_id": %q, "name": %q, "system_prompt": "你是一个温暖的陪伴助手。"}`, id, id)
		if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	roles, err := role.Load(dir, "companion_warm")
	if err != nil {
		t.Fatal(err)
	}
	return roles
}

func newTestManager(t *testing.T, client llm.Client, opts Options) (*Manager, memory.Store) {
	t.Helper()

	store, err := chromemstore.New(chromemstore.Config{Embedder: simple.New()})
	if err != nil {
		t.Fatal(err)
	}
	users, err := identity.NewUserManager(filepath.Join(t.TempDir(), "users"))
	if err != nil {
		t.Fatal(err)
	}
	sessions, err := identity.NewSessionManager(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatal(err)
	}

	m := New(users, sessions, store,
		retrieval.New(store, retrieval.DefaultConfig()),
		client, extract.New(client), testRoles(t), opts)
	t.Cleanup(m.Close)
	return m, store
}

// waitForCount polls the store until the scope holds want fragments.
func waitForCount(t *testing.T, store memory.Store, scope core.Scope, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, err := store.Count(context.Background(), scope)
		if err == nil && n >= want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	n, _ := store.Count(context.Background(), scope)
	t.Fatalf("scope %s has %d fragments, want %d", scope, n, want)
}

func TestChatBasic(t *testing.T) {
	client := &routedLLM{reply: "很高兴认识你！"}
	m, _ := newTestManager(t, client, Options{})

	result, err := m.Chat(context.Background(), ChatRequest{
		UserID:   "u1",
		Username: "张三",
		Message:  "你好",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Reply != "很高兴认识你！" {
		t.Errorf("reply = %q", result.Reply)
	}
	if result.SessionID == "" {
		t.Error("no session id assigned")
	}
	if result.MessageCount != 2 {
		t.Errorf("message count = %d, want 2", result.MessageCount)
	}
	if result.MemoryExtracted {
		t.Error("first turn should not trigger extraction at default threshold")
	}
}

func TestChatUnknownUser(t *testing.T) {
	m, _ := newTestManager(t, &routedLLM{}, Options{})

	_, err := m.Chat(context.Background(), ChatRequest{UserID: "ghost", Message: "你好"})
	if !errors.Is(err, core.ErrUnknownUser) {
		t.Fatalf("want ErrUnknownUser, got %v", err)
	}
}

func TestChatInvalidRole(t *testing.T) {
	m, _ := newTestManager(t, &routedLLM{}, Options{})

	_, err := m.Chat(context.Background(), ChatRequest{
		UserID:   "u1",
		Username: "u1",
		RoleID:   "does_not_exist",
		Message:  "你好",
	})
	if !errors.Is(err, core.ErrInvalidRole) {
		t.Fatalf("want ErrInvalidRole, got %v", err)
	}
}

func TestIdentityExtractionStored(t *testing.T) {
	client := &routedLLM{extractJSON: `{
		"fragments": [
			{"content": "我叫张三，是一名软件工程师", "speaker": "user", "type": "fact", "sentiment": "neutral", "importance_score": 4, "reasoning": "个人信息"}
		]
	}`}
	m, store := newTestManager(t, client, Options{})

	result, err := m.Chat(context.Background(), ChatRequest{
		UserID:     "u1",
		Username:   "张三",
		Message:    "我叫张三，是一名软件工程师",
		ExtractNow: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.MemoryExtracted {
		t.Fatal("extraction not scheduled despite extract_now")
	}

	scope := core.Scope{UserID: "u1", SessionID: result.SessionID, RoleID: "companion_warm"}
	waitForCount(t, store, scope, 1)

	frags, err := store.List(context.Background(), scope, 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	f := frags[0]
	if f.Speaker != core.SpeakerUser {
		t.Errorf("speaker = %q, want user", f.Speaker)
	}
	if f.ImportanceScore < 5 {
		t.Errorf("identity fragment scored %d, want >= 5 after the lift", f.ImportanceScore)
	}
	if !strings.Contains(f.Content, "张三") {
		t.Errorf("content %q does not mention 张三", f.Content)
	}
}

func TestCommitmentExtractionStored(t *testing.T) {
	client := &routedLLM{extractJSON: `{
		"fragments": [
			{"content": "我会一直陪着你", "speaker": "assistant", "type": "relationship", "sentiment": "positive", "importance_score": 4, "reasoning": "承诺"}
		]
	}`}
	m, store := newTestManager(t, client, Options{})

	result, err := m.Chat(context.Background(), ChatRequest{
		UserID:     "u1",
		Username:   "u1",
		Message:    "你会离开我吗",
		ExtractNow: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	scope := core.Scope{UserID: "u1", SessionID: result.SessionID, RoleID: "companion_warm"}
	waitForCount(t, store, scope, 1)

	frags, _ := store.List(context.Background(), scope, 10, memory.QueryFilter{})
	if frags[0].Speaker != core.SpeakerAssistant || frags[0].ImportanceScore < 7 {
		t.Errorf("commitment stored as %s/%d, want assistant/>=7", frags[0].Speaker, frags[0].ImportanceScore)
	}
}

func TestDuplicateExtractionIdempotent(t *testing.T) {
	client := &routedLLM{extractJSON: `{
		"fragments": [
			{"content": "用户最喜欢吃麻辣火锅", "speaker": "user", "type": "preference", "sentiment": "positive", "importance_score": 8, "reasoning": "明确偏好"}
		]
	}`}
	m, store := newTestManager(t, client, Options{})

	var sessionID string
	for i := 0; i < 2; i++ {
		result, err := m.Chat(context.Background(), ChatRequest{
			UserID:     "u1",
			Username:   "u1",
			SessionID:  sessionID,
			Message:    "我最喜欢吃麻辣火锅",
			ExtractNow: true,
		})
		if err != nil {
			t.Fatalf("chat #%d: %v", i+1, err)
		}
		sessionID = result.SessionID

		scope := core.Scope{UserID: "u1", SessionID: sessionID, RoleID: "companion_warm"}
		waitForCount(t, store, scope, 1)
	}

	scope := core.Scope{UserID: "u1", SessionID: sessionID, RoleID: "companion_warm"}
	// Give the second job time to finish before asserting.
	time.Sleep(200 * time.Millisecond)
	n, err := store.Count(context.Background(), scope)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("duplicate extraction stored %d fragments, want 1", n)
	}
}

func TestThresholdTriggersExtraction(t *testing.T) {
	client := &routedLLM{}
	m, _ := newTestManager(t, client, Options{ExtractThreshold: 2})

	var sessionID string
	var extractedTurns []int
	for i := 1; i <= 4; i++ {
		result, err := m.Chat(context.Background(), ChatRequest{
			UserID:    "u1",
			Username:  "u1",
			SessionID: sessionID,
			Message:   fmt.Sprintf("第%d句话", i),
		})
		if err != nil {
			t.Fatalf("chat #%d: %v", i, err)
		}
		sessionID = result.SessionID
		if result.MemoryExtracted {
			extractedTurns = append(extractedTurns, i)
		}
		// Let the (empty) extraction finish so triggers don't coalesce.
		time.Sleep(50 * time.Millisecond)
	}

	if len(extractedTurns) != 2 || extractedTurns[0] != 2 || extractedTurns[1] != 4 {
		t.Errorf("extraction fired on turns %v, want [2 4]", extractedTurns)
	}
}

func TestReplyNotDelayedByExtraction(t *testing.T) {
	client := &routedLLM{extractDelay: 1 * time.Second}
	m, _ := newTestManager(t, client, Options{})

	start := time.Now()
	result, err := m.Chat(context.Background(), ChatRequest{
		UserID:     "u1",
		Username:   "u1",
		Message:    "我最喜欢吃麻辣火锅",
		ExtractNow: true,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !result.MemoryExtracted {
		t.Fatal("extraction not scheduled")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("chat took %s with a 1s extraction; the reply path is blocking on extraction", elapsed)
	}
}

func TestExtractionTriggersCoalesce(t *testing.T) {
	client := &routedLLM{extractDelay: 500 * time.Millisecond}
	m, _ := newTestManager(t, client, Options{})

	first, err := m.Chat(context.Background(), ChatRequest{
		UserID: "u1", Username: "u1", Message: "第一句", ExtractNow: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if !first.MemoryExtracted {
		t.Fatal("first trigger not scheduled")
	}

	second, err := m.Chat(context.Background(), ChatRequest{
		UserID: "u1", Username: "u1", SessionID: first.SessionID, Message: "第二句", ExtractNow: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if second.MemoryExtracted {
		t.Error("second trigger should have coalesced with the running job")
	}
}

func TestPersonalizationRecall(t *testing.T) {
	client := &routedLLM{reply: "当然记得，你最喜欢吃麻辣火锅！"}
	m, store := newTestManager(t, client, Options{})

	// Seed the stored preference directly.
	sessions, err := m.sessions.Create("u1", "")
	if err != nil {
		t.Fatal(err)
	}
	scope := core.Scope{UserID: "u1", SessionID: sessions.SessionID, RoleID: "companion_warm"}
	if _, err := m.users.Create("u1", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Insert(context.Background(), scope, core.Fragment{
		Content:         "用户最喜欢吃麻辣火锅",
		Speaker:         core.SpeakerUser,
		Type:            core.TypePreference,
		Sentiment:       core.SentimentPositive,
		ImportanceScore: 8,
		Confidence:      0.9,
		Timestamp:       time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	result, err := m.Chat(context.Background(), ChatRequest{
		UserID:    "u1",
		SessionID: sessions.SessionID,
		Message:   "你知道我喜欢吃什么吗？",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.FragmentsUsed != 1 {
		t.Errorf("fragments used = %d, want 1", result.FragmentsUsed)
	}

	req := client.replyRequest()
	if len(req.Messages) == 0 || !strings.Contains(req.Messages[0].Content, "火锅") {
		t.Errorf("memory block missing from the system prompt")
	}
	if !strings.Contains(result.Reply, "火锅") {
		t.Errorf("reply %q does not reference the stored preference", result.Reply)
	}
}

func TestRoleSwitchIsolation(t *testing.T) {
	client := &routedLLM{extractJSON: `{
		"fragments": [
			{"content": "我叫李四", "speaker": "user", "type": "fact", "sentiment": "neutral", "importance_score": 6, "reasoning": "个人信息"}
		]
	}`}
	m, store := newTestManager(t, client, Options{})

	first, err := m.Chat(context.Background(), ChatRequest{
		UserID: "u1", Username: "u1", RoleID: "companion_warm",
		Message: "我叫李四", ExtractNow: true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	warmScope := core.Scope{UserID: "u1", SessionID: first.SessionID, RoleID: "companion_warm"}
	waitForCount(t, store, warmScope, 1)

	// Same session, different role: a disjoint partition.
	mentorScope := core.Scope{UserID: "u1", SessionID: first.SessionID, RoleID: "mentor_rational"}
	results, err := store.Query(context.Background(), mentorScope, "我叫李四", 10, memory.QueryFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("mentor role sees %d fragments extracted under companion role", len(results))
	}
}

func TestBufferEviction(t *testing.T) {
	state := &sessionState{}
	for i := 0; i < bufferCap+20; i++ {
		state.append(core.Message{Content: fmt.Sprintf("msg-%d", i)})
	}
	if len(state.buffer) != bufferCap {
		t.Errorf("buffer holds %d messages, cap is %d", len(state.buffer), bufferCap)
	}
	if state.buffer[0].Content != "msg-20" {
		t.Errorf("oldest surviving message is %q, want msg-20", state.buffer[0].Content)
	}
}

func TestWindowSnapshotImmutable(t *testing.T) {
	state := &sessionState{}
	state.append(core.Message{Content: "one"})
	state.append(core.Message{Content: "two"})

	window := state.tail(10)
	state.append(core.Message{Content: "three"})

	if len(window) != 2 {
		t.Errorf("snapshot grew to %d messages after append", len(window))
	}
}
