package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

// SqliteStore is the Durable backend: a single sqlite connection serialised
// by a mutex, schema `agent_sessions(session_id PK, history_json, updated_at)`
// with an index on updated_at.
type SqliteStore struct {
	mu          sync.Mutex
	db          *sql.DB
	ttl         time.Duration
	maxMessages int
	stopSweep   chan struct{}
}

// DefaultDBPath mirrors the original's default_db_path: <workspace>/memory/sessions.db
func DefaultDBPath(workspaceDir string) string {
	return filepath.Join(workspaceDir, "memory", "sessions.db")
}

// NewSqliteStore opens (creating if absent) the sqlite file at dbPath, sets
// WAL mode, ensures the schema, and starts the TTL sweeper.
func NewSqliteStore(dbPath string, ttl time.Duration, maxMessages int) (*SqliteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session: creating sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;`); err != nil {
		return nil, fmt.Errorf("session: setting pragmas: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS agent_sessions (
		session_id   TEXT PRIMARY KEY,
		history_json TEXT NOT NULL,
		updated_at   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_sessions_updated_at ON agent_sessions(updated_at);`); err != nil {
		return nil, fmt.Errorf("session: creating schema: %w", err)
	}

	s := &SqliteStore{
		db:          db,
		ttl:         ttl,
		maxMessages: maxMessages,
		stopSweep:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s, nil
}

func (s *SqliteStore) sweepLoop() {
	ticker := time.NewTicker(CleanupInterval(s.ttl))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := s.CleanupExpired(context.Background()); err != nil {
				logger.ErrorCF("session", "sqlite cleanup failed", map[string]interface{}{"error": err.Error()})
			} else if n > 0 {
				logger.DebugCF("session", "swept expired sqlite sessions", map[string]interface{}{"count": n})
			}
		case <-s.stopSweep:
			return
		}
	}
}

func (s *SqliteStore) GetHistory(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := unixNow()

	var historyJSON string
	err := s.db.QueryRowContext(ctx, `SELECT history_json FROM agent_sessions WHERE session_id = ?`, sessionID).Scan(&historyJSON)
	if err == sql.ErrNoRows {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO agent_sessions(session_id, history_json, updated_at) VALUES(?, '[]', ?)`, sessionID, now); err != nil {
			return nil, fmt.Errorf("session: inserting new session %s: %w", sessionID, err)
		}
		return []ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: querying session %s: %w", sessionID, err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE agent_sessions SET updated_at = ? WHERE session_id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("session: touching session %s: %w", sessionID, err)
	}

	var history []ChatMessage
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return nil, fmt.Errorf("session: parsing history for session_id=%s: %w", sessionID, err)
	}
	return trimNonSystem(history, s.maxMessages), nil
}

func (s *SqliteStore) SetHistory(ctx context.Context, sessionID string, history []ChatMessage) error {
	trimmed := trimNonSystem(history, s.maxMessages)
	blob, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("session: serialising history for %s: %w", sessionID, err)
	}
	now := unixNow()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions(session_id, history_json, updated_at)
		VALUES(?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET history_json=excluded.history_json, updated_at=excluded.updated_at`,
		sessionID, string(blob), now)
	if err != nil {
		return fmt.Errorf("session: upserting session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("session: deleting session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SqliteStore) CleanupExpired(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := unixNow() - int64(s.ttl.Seconds())
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM agent_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: cleaning up expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: reading rows affected: %w", err)
	}
	return int(n), nil
}

// forceExpireSession is a test hook mirroring the original's
// force_expire_session — used only by tests to deterministically age a row.
func (s *SqliteStore) forceExpireSession(ctx context.Context, sessionID string, age time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newTime := unixNow() - int64(age.Seconds())
	_, err := s.db.ExecContext(ctx, `UPDATE agent_sessions SET updated_at = ? WHERE session_id = ?`, newTime, sessionID)
	return err
}

func (s *SqliteStore) Close() error {
	close(s.stopSweep)
	return s.db.Close()
}
