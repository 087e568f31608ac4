package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveSessionIDRespectsStrategy(t *testing.T) {
	if got := ResolveSessionID(StrategyMain, "u1", "whatsapp"); got != "main" {
		t.Fatalf("Main: got %q", got)
	}
	if got := ResolveSessionID(StrategyPerChannel, "u1", "whatsapp"); got != "whatsapp" {
		t.Fatalf("PerChannel with channel: got %q", got)
	}
	if got := ResolveSessionID(StrategyPerChannel, "u1", ""); got != "main" {
		t.Fatalf("PerChannel without channel: got %q", got)
	}
	if got := ResolveSessionID(StrategyPerSender, "u1", "whatsapp"); got != "whatsapp:u1" {
		t.Fatalf("PerSender with channel: got %q", got)
	}
	if got := ResolveSessionID(StrategyPerSender, "u1", ""); got != "u1" {
		t.Fatalf("PerSender without channel: got %q", got)
	}
}

func TestMemorySessionAccumulatesHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour, 50)
	defer s.Close()

	h, err := s.GetHistory(ctx, "s1")
	if err != nil || len(h) != 0 {
		t.Fatalf("expected empty history, got %v err %v", h, err)
	}

	if err := s.SetHistory(ctx, "s1", []ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "ok"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	h, _ = s.GetHistory(ctx, "s1")
	if len(h) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(h))
	}

	h = append(h, ChatMessage{Role: "user", Content: "again"}, ChatMessage{Role: "assistant", Content: "ok2"})
	if err := s.SetHistory(ctx, "s1", h); err != nil {
		t.Fatalf("set2: %v", err)
	}
	h, _ = s.GetHistory(ctx, "s1")
	if len(h) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(h))
	}
}

func TestMemorySessionsDoNotMixHistories(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour, 50)
	defer s.Close()

	s.SetHistory(ctx, "a", []ChatMessage{{Role: "user", Content: "u1"}, {Role: "assistant", Content: "a1"}})
	s.SetHistory(ctx, "b", []ChatMessage{{Role: "user", Content: "u2"}, {Role: "assistant", Content: "b1"}})

	ha, _ := s.GetHistory(ctx, "a")
	hb, _ := s.GetHistory(ctx, "b")
	if ha[0].Content != "u1" || hb[0].Content != "u2" {
		t.Fatalf("histories mixed: ha=%v hb=%v", ha, hb)
	}
}

func TestMaxMessagesTrimsOldestNonSystem(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour, 2)
	defer s.Close()

	s.SetHistory(ctx, "s1", []ChatMessage{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "assistant", Content: "4"},
	})
	h, _ := s.GetHistory(ctx, "s1")
	if len(h) != 2 || h[0].Content != "3" || h[1].Content != "4" {
		t.Fatalf("unexpected trimmed history: %+v", h)
	}
}

func TestSqliteSessionPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	mgr, err := NewSqliteStore(dbPath, time.Hour, 50)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := mgr.SetHistory(ctx, "s1", []ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "ok"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	mgr.Close()

	mgr2, err := NewSqliteStore(dbPath, time.Hour, 50)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer mgr2.Close()
	history, err := mgr2.GetHistory(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("unexpected history after reopen: %+v", history)
	}
}

func TestSqliteSessionCleanupExpires(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	mgr, err := NewSqliteStore(dbPath, time.Second, 50)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer mgr.Close()

	if err := mgr.SetHistory(ctx, "s1", []ChatMessage{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "ok"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mgr.forceExpireSession(ctx, "s1", 2*time.Second); err != nil {
		t.Fatalf("force expire: %v", err)
	}

	removed, err := mgr.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed < 1 {
		t.Fatalf("expected at least 1 removed, got %d", removed)
	}
}

func TestNoneStoreIsAlwaysEmpty(t *testing.T) {
	ctx := context.Background()
	var s NoneStore
	if err := s.SetHistory(ctx, "s1", []ChatMessage{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	h, err := s.GetHistory(ctx, "s1")
	if err != nil || len(h) != 0 {
		t.Fatalf("expected always-empty history, got %v err %v", h, err)
	}
}
