package core

import (
	"fmt"
	"strings"
	"time"
)

// Scope is the (user, session, role) triple that fully partitions stored
// fragments. Fragments never cross scopes in retrieval.
type Scope struct {
	UserID    string
	SessionID string
	RoleID    string
}

// Key returns a stable string form of the scope, used for fragment ID
// derivation and job coalescing.
func (s Scope) Key() string {
	return s.UserID + "/" + s.SessionID + "/" + s.RoleID
}

func (s Scope) String() string {
	return s.Key()
}

// Validate rejects scopes with empty components.
func (s Scope) Validate() error {
	if s.UserID == "" || s.SessionID == "" || s.RoleID == "" {
		return fmt.Errorf("incomplete scope %q", s.Key())
	}
	return nil
}

// Message is one chat turn. Messages are the source of memory extraction
// but are not themselves the memory; they live in the orchestrator's
// buffer and the session history.
type Message struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Role      Speaker   `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript renders a window of messages as the speaker-tagged text the
// extraction engine hands to the scoring LLM.
func Transcript(window []Message) string {
	var b strings.Builder
	for i, msg := range window {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
