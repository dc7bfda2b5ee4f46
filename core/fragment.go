package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies which side of the conversation a fragment or
// message belongs to.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// FragmentType is the memory category.
type FragmentType string

const (
	TypeEvent        FragmentType = "event"
	TypePreference   FragmentType = "preference"
	TypeFact         FragmentType = "fact"
	TypeRelationship FragmentType = "relationship"
)

// Sentiment is the emotional tone of a fragment.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// fragmentNamespace seeds content-derived fragment IDs.
var fragmentNamespace = uuid.MustParse("8f3c1d6a-54b2-4e0f-9d11-c7aa20c3b9e4")

// Fragment is a single atomic recollection extracted from conversation.
// Fragments are immutable after insertion into the store; there is no
// update path.
type Fragment struct {
	ID              string            `json:"fragment_id,omitempty"`
	Content         string            `json:"content"`
	Speaker         Speaker           `json:"speaker"`
	Type            FragmentType      `json:"type"`
	Sentiment       Sentiment         `json:"sentiment"`
	Entities        []string          `json:"entities,omitempty"`
	Topics          []string          `json:"topics,omitempty"`
	ImportanceScore int               `json:"importance_score"`
	Confidence      float64           `json:"confidence"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Validate checks the fragment invariants: non-empty content, enumerated
// speaker/type/sentiment, integer score in [1,10], confidence in [0,1].
func (f *Fragment) Validate() error {
	if strings.TrimSpace(f.Content) == "" {
		return fmt.Errorf("fragment content is empty")
	}
	switch f.Speaker {
	case SpeakerUser, SpeakerAssistant:
	default:
		return fmt.Errorf("invalid speaker %q", f.Speaker)
	}
	switch f.Type {
	case TypeEvent, TypePreference, TypeFact, TypeRelationship:
	default:
		return fmt.Errorf("invalid fragment type %q", f.Type)
	}
	switch f.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return fmt.Errorf("invalid sentiment %q", f.Sentiment)
	}
	if f.ImportanceScore < 1 || f.ImportanceScore > 10 {
		return fmt.Errorf("importance_score %d out of range [1,10]", f.ImportanceScore)
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return fmt.Errorf("confidence %.2f out of range [0,1]", f.Confidence)
	}
	return nil
}

// DeriveFragmentID returns the content-unique fragment ID for a scope.
// The same (scope, speaker, content) always maps to the same ID, which is
// what makes duplicate extraction runs idempotent at the store level.
func DeriveFragmentID(scope Scope, speaker Speaker, content string) string {
	key := scope.Key() + "|" + string(speaker) + "|" + content
	return uuid.NewSHA1(fragmentNamespace, []byte(key)).String()
}
