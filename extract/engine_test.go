package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/llm"
)

// scriptedLLM returns a fixed response (or error) for every call.
type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Model() string { return "scripted" }

func window(turns ...string) []core.Message {
	var msgs []core.Message
	for i, content := range turns {
		role := core.SpeakerUser
		if i%2 == 1 {
			role = core.SpeakerAssistant
		}
		msgs = append(msgs, core.Message{Role: role, Content: content, Timestamp: time.Now()})
	}
	return msgs
}

func TestExtractValidFragments(t *testing.T) {
	client := &scriptedLLM{response: `{
		"fragments": [
			{"content": "我最喜欢吃北京烤鸭", "speaker": "user", "type": "preference", "sentiment": "positive", "importance_score": 6, "reasoning": "明确偏好"},
			{"content": "我会一直陪着你", "speaker": "assistant", "type": "relationship", "sentiment": "positive", "importance_score": 9, "reasoning": "重要承诺"}
		]
	}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("我最喜欢吃北京烤鸭", "我会一直陪着你"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	for _, f := range frags {
		if err := f.Validate(); err != nil {
			t.Errorf("invalid fragment %q: %v", f.Content, err)
		}
	}
	// Sorted by importance descending.
	if frags[0].ImportanceScore < frags[1].ImportanceScore {
		t.Errorf("fragments not sorted: %d before %d", frags[0].ImportanceScore, frags[1].ImportanceScore)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	client := &scriptedLLM{response: "```json\n{\"fragments\": [{\"content\": \"我叫张三，是一名软件工程师\", \"speaker\": \"user\", \"type\": \"fact\", \"sentiment\": \"neutral\", \"importance_score\": 6, \"reasoning\": \"个人信息\"}]}\n```"}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("我叫张三，是一名软件工程师"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
}

func TestExtractMalformedResponse(t *testing.T) {
	client := &scriptedLLM{response: "抱歉，我无法处理这个请求。"}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("你好"))
	if !errors.Is(err, core.ErrMalformedOutput) {
		t.Fatalf("want ErrMalformedOutput, got %v", err)
	}
	if len(frags) != 0 {
		t.Errorf("malformed response yielded %d fragments", len(frags))
	}
}

func TestExtractLLMFailure(t *testing.T) {
	client := &scriptedLLM{err: core.ErrLLMUnavailable}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("你好"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(frags) != 0 {
		t.Errorf("failed call yielded %d fragments", len(frags))
	}
}

func TestExtractEmptyWindow(t *testing.T) {
	client := &scriptedLLM{response: `{"fragments": []}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), nil)
	if err != nil || frags != nil {
		t.Fatalf("empty window: frags=%v err=%v", frags, err)
	}
	if client.calls != 0 {
		t.Errorf("empty window still called the LLM")
	}
}

func TestScoreCoercionAndClamping(t *testing.T) {
	// Float, string and out-of-range scores all coerce to ints in [1,10].
	client := &scriptedLLM{response: `{
		"fragments": [
			{"content": "我最爱吃麻辣火锅，一定要每周吃一次", "speaker": "user", "type": "preference", "sentiment": "positive", "importance_score": 7.6, "reasoning": "明确偏好"},
			{"content": "我保证每天提醒你喝水", "speaker": "assistant", "type": "event", "sentiment": "positive", "importance_score": "8", "reasoning": "承诺"},
			{"content": "我最喜欢的城市是成都", "speaker": "user", "type": "preference", "sentiment": "positive", "importance_score": 99, "reasoning": "明确偏好"}
		]
	}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("聊天"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("got %d fragments, want 3", len(frags))
	}
	for _, f := range frags {
		if f.ImportanceScore < 1 || f.ImportanceScore > 10 {
			t.Errorf("score %d out of range for %q", f.ImportanceScore, f.Content)
		}
	}
}

func TestVariantNormalization(t *testing.T) {
	client := &scriptedLLM{response: `{
		"fragments": [
			{"content": "用户住在上海，这是重要的个人信息，我是用户的朋友", "speaker": "说话人", "type": "opinion", "sentiment": "mixed", "importance_score": 8, "reasoning": "个人信息"}
		]
	}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("我住在上海"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	f := frags[0]
	if f.Speaker != core.SpeakerUser {
		t.Errorf("unknown speaker normalized to %q, want user", f.Speaker)
	}
	if f.Type != core.TypeFact {
		t.Errorf("unknown type normalized to %q, want fact", f.Type)
	}
	if f.Sentiment != core.SentimentNeutral {
		t.Errorf("unknown sentiment normalized to %q, want neutral", f.Sentiment)
	}
}

func TestDifferentiatedThreshold(t *testing.T) {
	// User fragment at 4 drops; assistant fragment at 3 survives.
	client := &scriptedLLM{response: `{
		"fragments": [
			{"content": "天气真冷", "speaker": "user", "type": "event", "sentiment": "neutral", "importance_score": 4, "reasoning": "寒暄"},
			{"content": "多穿点衣服别着凉", "speaker": "assistant", "type": "event", "sentiment": "positive", "importance_score": 3, "reasoning": "轻微关心"}
		]
	}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("天气真冷", "多穿点衣服别着凉"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].Speaker != core.SpeakerAssistant {
		t.Errorf("surviving fragment is %q, want the assistant one", frags[0].Speaker)
	}
}

func TestChitChatYieldsNothing(t *testing.T) {
	client := &scriptedLLM{response: `{
		"fragments": [
			{"content": "今天天气不错", "speaker": "user", "type": "event", "sentiment": "neutral", "importance_score": 2, "reasoning": "纯寒暄"},
			{"content": "明天可能下雨", "speaker": "user", "type": "event", "sentiment": "neutral", "importance_score": 3, "reasoning": "天气闲聊"}
		]
	}`}

	engine := New(client)
	frags, err := engine.Extract(context.Background(), window("今天天气不错", "是呀", "明天可能下雨"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(frags) != 0 {
		t.Errorf("weather small talk stored %d user fragments", len(frags))
	}
}
