package identity

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyangfan/deepmemory/core"
)

// Session is a conversation container. It also holds the durable message
// history used for replay; the orchestrator's buffer is separate and
// transient.
type Session struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Title        string         `json:"title"`
	MessageCount int            `json:"message_count"`
	Messages     []core.Message `json:"messages,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SessionManager persists sessions under {data_dir}/sessions.
type SessionManager struct {
	dir string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager loads all session files from dir.
func NewSessionManager(dir string) (*SessionManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create sessions dir: %v", core.ErrConfigInvalid, err)
	}
	m := &SessionManager{dir: dir, sessions: make(map[string]*Session)}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Printf("[IDENTITY] skip session file %s: %v", f, err)
			continue
		}
		var s Session
		if err := json.Unmarshal(data, &s); err != nil || s.SessionID == "" {
			log.Printf("[IDENTITY] skip corrupt session file %s", f)
			continue
		}
		m.sessions[s.SessionID] = &s
	}
	return m, nil
}

// Create creates and persists a session.
func (m *SessionManager) Create(userID, title string) (*Session, error) {
	if title == "" {
		title = "新对话"
	}
	now := time.Now().UTC()
	s := &Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.sessions[s.SessionID] = s
	m.mu.Unlock()

	return s, m.save(s)
}

// Get returns the session or core.ErrUnknownSession.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownSession, sessionID)
	}
	return s, nil
}

// AppendMessage adds one turn to the durable history and persists.
func (m *SessionManager) AppendMessage(sessionID string, msg core.Message) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrUnknownSession, sessionID)
	}
	s.Messages = append(s.Messages, msg)
	s.MessageCount = len(s.Messages)
	s.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	return m.save(s)
}

// ListByUser returns the user's sessions.
func (m *SessionManager) ListByUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *SessionManager) save(s *Session) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(s, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, s.SessionID+".json"), data, 0o644)
}
