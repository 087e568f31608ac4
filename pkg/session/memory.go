package session

import (
	"context"
	"sync"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

type memoryRecord struct {
	history   []ChatMessage
	updatedAt int64
}

// MemoryStore is the Volatile backend: an in-memory map guarded by a mutex,
// swept periodically by a background goroutine.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*memoryRecord
	ttl         time.Duration
	maxMessages int
	stopSweep   chan struct{}
}

// NewMemoryStore starts the background TTL sweeper and returns the store.
func NewMemoryStore(ttl time.Duration, maxMessages int) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]*memoryRecord),
		ttl:         ttl,
		maxMessages: maxMessages,
		stopSweep:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(CleanupInterval(s.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := s.CleanupExpired(context.Background()); err == nil && n > 0 {
				logger.DebugCF("session", "swept expired memory sessions", map[string]interface{}{"count": n})
			}
		case <-s.stopSweep:
			return
		}
	}
}

func (s *MemoryStore) GetHistory(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := unixNow()
	rec, ok := s.sessions[sessionID]
	if !ok {
		rec = &memoryRecord{history: nil, updatedAt: now}
		s.sessions[sessionID] = rec
	}
	rec.updatedAt = now
	out := make([]ChatMessage, len(rec.history))
	copy(out, rec.history)
	return out, nil
}

func (s *MemoryStore) SetHistory(ctx context.Context, sessionID string, history []ChatMessage) error {
	trimmed := trimNonSystem(history, s.maxMessages)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = &memoryRecord{history: trimmed, updatedAt: unixNow()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) CleanupExpired(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := unixNow() - int64(s.ttl.Seconds())
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.sessions)
	for id, rec := range s.sessions {
		if rec.updatedAt < cutoff {
			delete(s.sessions, id)
		}
	}
	return before - len(s.sessions), nil
}

func (s *MemoryStore) Close() error {
	close(s.stopSweep)
	return nil
}

// forceExpire is a test hook mirroring the original's force_expire_session.
func (s *MemoryStore) forceExpire(sessionID string, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.sessions[sessionID]; ok {
		rec.updatedAt = unixNow() - int64(age.Seconds())
	}
}
