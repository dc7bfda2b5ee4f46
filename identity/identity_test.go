package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/lyangfan/deepmemory/core"
)

func TestUserRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewUserManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	u, err := m.Create("张三", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.UserID == "" {
		t.Fatal("no user id assigned")
	}

	// A fresh manager over the same dir sees the persisted user.
	m2, err := NewUserManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m2.Get(u.UserID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Username != "张三" {
		t.Errorf("username = %q", got.Username)
	}
}

func TestUserUnknown(t *testing.T) {
	m, err := NewUserManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("ghost"); !errors.Is(err, core.ErrUnknownUser) {
		t.Errorf("want ErrUnknownUser, got %v", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	m, err := NewUserManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	first, err := m.GetOrCreate("李四", "fixed-id")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.GetOrCreate("别名", "fixed-id")
	if err != nil {
		t.Fatal(err)
	}
	if second.Username != "李四" {
		t.Errorf("existing user renamed to %q", second.Username)
	}
	if first.UserID != second.UserID {
		t.Errorf("ids differ: %s vs %s", first.UserID, second.UserID)
	}
}

func TestSessionRoundTripWithHistory(t *testing.T) {
	dir := t.TempDir()
	m, err := NewSessionManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	s, err := m.Create("u1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.Title != "新对话" {
		t.Errorf("default title = %q", s.Title)
	}

	msgs := []core.Message{
		{MessageID: "m1", SessionID: s.SessionID, Role: core.SpeakerUser, Content: "你好", Timestamp: time.Now()},
		{MessageID: "m2", SessionID: s.SessionID, Role: core.SpeakerAssistant, Content: "你好呀", Timestamp: time.Now()},
	}
	for _, msg := range msgs {
		if err := m.AppendMessage(s.SessionID, msg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	m2, err := NewSessionManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m2.Get(s.SessionID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.MessageCount != 2 || len(got.Messages) != 2 {
		t.Errorf("history not persisted: count=%d len=%d", got.MessageCount, len(got.Messages))
	}
	if got.Messages[1].Content != "你好呀" {
		t.Errorf("history order broken: %q", got.Messages[1].Content)
	}
}

func TestListByUser(t *testing.T) {
	m, err := NewSessionManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("u1", "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("u1", "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("u2", "c"); err != nil {
		t.Fatal(err)
	}

	if got := len(m.ListByUser("u1")); got != 2 {
		t.Errorf("u1 has %d sessions, want 2", got)
	}
}

func TestAppendToUnknownSession(t *testing.T) {
	m, err := NewSessionManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	err = m.AppendMessage("ghost", core.Message{Content: "x"})
	if !errors.Is(err, core.ErrUnknownSession) {
		t.Errorf("want ErrUnknownSession, got %v", err)
	}
}
