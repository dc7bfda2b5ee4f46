// Package identity persists user and session records as flat JSON files
// under the data directory, one file per record, loaded into an
// in-memory cache at startup and written through on every change.
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

// User is an identity record.
type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UserManager persists users under {data_dir}/users.
type UserManager struct {
	dir string

	mu    sync.RWMutex
	users map[string]*User
}

// NewUserManager loads all user files from dir.
func NewUserManager(dir string) (*UserManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create users dir: %v", core.ErrConfigInvalid, err)
	}
	m := &UserManager{dir: dir, users: make(map[string]*User)}

	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Printf("[IDENTITY] skip user file %s: %v", f, err)
			continue
		}
		var u User
		if err := json.Unmarshal(data, &u); err != nil || u.UserID == "" {
			log.Printf("[IDENTITY] skip corrupt user file %s", f)
			continue
		}
		m.users[u.UserID] = &u
	}
	return m, nil
}

// Create creates and persists a user. Empty id gets a fresh UUID.
func (m *UserManager) Create(username, userID string) (*User, error) {
	if userID == "" {
		userID = uuid.New().String()
	}
	u := &User{UserID: userID, Username: username, CreatedAt: time.Now().UTC()}

	m.mu.Lock()
	m.users[userID] = u
	m.mu.Unlock()

	return u, m.save(u)
}

// Get returns the user or core.ErrUnknownUser.
func (m *UserManager) Get(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownUser, userID)
	}
	return u, nil
}

// GetOrCreate returns an existing user or creates one with the given
// username.
func (m *UserManager) GetOrCreate(username, userID string) (*User, error) {
	if userID != "" {
		m.mu.RLock()
		u, ok := m.users[userID]
		m.mu.RUnlock()
		if ok {
			return u, nil
		}
	}
	if username == "" {
		username = "user_" + userID
	}
	return m.Create(username, userID)
}

// List returns all users.
func (m *UserManager) List() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

func (m *UserManager) save(u *User) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, u.UserID+".json"), data, 0o644)
}
