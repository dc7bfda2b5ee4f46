// Package extract turns a conversation window into validated memory
// fragments via a single scoring-LLM call, rule-based post-correction
// and a differentiated per-speaker threshold filter.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/llm"
)

// scoringTemperature keeps extraction near-deterministic.
const scoringTemperature = 0.1

// Engine extracts scored fragments from conversation windows.
type Engine struct {
	client llm.Client
}

// New creates an extraction engine bound to a scoring LLM.
func New(client llm.Client) *Engine {
	return &Engine{client: client}
}

// rawFragment is the wire shape the scoring LLM is asked to return.
type rawFragment struct {
	Content         string          `json:"content"`
	Speaker         string          `json:"speaker"`
	Type            string          `json:"type"`
	Sentiment       string          `json:"sentiment"`
	ImportanceScore json.RawMessage `json:"importance_score"`
	Entities        []string        `json:"entities"`
	Topics          []string        `json:"topics"`
	Reasoning       string          `json:"reasoning"`
}

type scoringResponse struct {
	Fragments []rawFragment `json:"fragments"`
}

// Extract runs one scoring call over the window and returns the
// surviving fragments sorted by importance descending. A failed call or
// malformed response yields zero fragments and an error the caller is
// expected to log, not propagate to the chat turn.
func (e *Engine) Extract(ctx context.Context, window []core.Message) ([]core.Fragment, error) {
	if len(window) == 0 {
		return nil, nil
	}

	transcript := core.Transcript(window)
	reply, err := e.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: scoringSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(scoringUserPrompt, transcript)},
		},
		Temperature: scoringTemperature,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, fmt.Errorf("scoring call: %w", err)
	}

	parsed, err := parseResponse(reply)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedOutput, err)
	}

	now := time.Now()
	fragments := make([]core.Fragment, 0, len(parsed.Fragments))
	for i, raw := range parsed.Fragments {
		frag, ok := normalizeFragment(raw, now)
		if !ok {
			log.Printf("[EXTRACT] dropped fragment #%d: empty content", i+1)
			continue
		}
		applyLifts(&frag, raw.Reasoning)
		if !passesThreshold(&frag) {
			continue
		}
		fragments = append(fragments, frag)
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].ImportanceScore > fragments[j].ImportanceScore
	})
	log.Printf("[EXTRACT] %d raw -> %d kept from %d-message window",
		len(parsed.Fragments), len(fragments), len(window))
	return fragments, nil
}

// parseResponse strips markdown code fences and unmarshals the strict
// {"fragments": [...]} shape. Anything else rejects the whole response.
func parseResponse(reply string) (*scoringResponse, error) {
	cleaned := strings.TrimSpace(reply)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var parsed scoringResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal scoring response: %w", err)
	}
	return &parsed, nil
}

// normalizeFragment coerces one raw fragment into a valid core.Fragment:
// speaker inferred when missing, score coerced to int and clamped to
// [1,10], unknown type/sentiment mapped to their defaults.
func normalizeFragment(raw rawFragment, now time.Time) (core.Fragment, bool) {
	content := strings.TrimSpace(raw.Content)
	if content == "" {
		return core.Fragment{}, false
	}

	speaker := core.Speaker(raw.Speaker)
	if speaker != core.SpeakerUser && speaker != core.SpeakerAssistant {
		if strings.HasPrefix(content, "assistant:") || strings.Contains(firstN(content, 20), "assistant:") {
			speaker = core.SpeakerAssistant
		} else {
			speaker = core.SpeakerUser
		}
	}

	ftype := core.FragmentType(raw.Type)
	switch ftype {
	case core.TypeEvent, core.TypePreference, core.TypeFact, core.TypeRelationship:
	default:
		ftype = core.TypeFact
	}

	sentiment := core.Sentiment(raw.Sentiment)
	switch sentiment {
	case core.SentimentPositive, core.SentimentNeutral, core.SentimentNegative:
	default:
		sentiment = core.SentimentNeutral
	}

	return core.Fragment{
		Content:         content,
		Speaker:         speaker,
		Type:            ftype,
		Sentiment:       sentiment,
		Entities:        raw.Entities,
		Topics:          raw.Topics,
		ImportanceScore: coerceScore(raw.ImportanceScore),
		Confidence:      0.8,
		Timestamp:       now,
		Metadata: map[string]string{
			"source":    "chat",
			"reasoning": raw.Reasoning,
		},
	}, true
}

// coerceScore accepts an int, float or numeric string and clamps to
// [1,10]. Anything unparseable lands mid-scale.
func coerceScore(raw json.RawMessage) int {
	score := 5
	if len(raw) > 0 {
		var asFloat float64
		if err := json.Unmarshal(raw, &asFloat); err == nil {
			score = int(asFloat)
		} else {
			var asString string
			if err := json.Unmarshal(raw, &asString); err == nil {
				if f, err := strconv.ParseFloat(strings.TrimSpace(asString), 64); err == nil {
					score = int(f)
				}
			}
		}
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
