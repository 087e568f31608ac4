package session

import "context"

// NoneStore is the disabled backend: every call is a no-op, history is
// always empty. Used when session.backend == None.
type NoneStore struct{}

func (NoneStore) GetHistory(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	return []ChatMessage{}, nil
}

func (NoneStore) SetHistory(ctx context.Context, sessionID string, history []ChatMessage) error {
	return nil
}

func (NoneStore) Delete(ctx context.Context, sessionID string) error { return nil }

func (NoneStore) CleanupExpired(ctx context.Context) (int, error) { return 0, nil }

func (NoneStore) Close() error { return nil }
