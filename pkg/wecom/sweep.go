package wecom

import (
	"context"
	"time"
)

// fileCleanupInterval rate-limits the attachment retention sweep — it only
// actually walks the inbox directory this often, regardless of how often
// maybeCleanupFiles is called.
const fileCleanupInterval = 30 * time.Minute

// conversationTTL is the default inactivity window after which a
// conversation's history is dropped.
const conversationTTL = 48 * time.Hour

// Sweeper prunes every expiring piece of runtime state on a single cadence:
// response-url queues, execution locks, inflight tasks, stream states,
// conversations, and (rate-limited, separately) disk attachments.
type Sweeper struct {
	ResponseURLs  *ResponseURLCache
	Locks         *LockTable
	Inflight      *InflightRegistry
	Streams       *StreamStore
	Conversations *ConversationStore
	Idempotency   *IdempotencyStore
	Downloader    *Downloader

	retention    time.Duration
	lastFileSwep time.Time
}

// NewSweeper builds a Sweeper; retention is the attachment file-retention
// window (spec.md default 3 days).
func NewSweeper(responseURLs *ResponseURLCache, locks *LockTable, inflight *InflightRegistry, streams *StreamStore, conversations *ConversationStore, idempotency *IdempotencyStore, downloader *Downloader, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = 3 * 24 * time.Hour
	}
	return &Sweeper{
		ResponseURLs: responseURLs, Locks: locks, Inflight: inflight,
		Streams: streams, Conversations: conversations, Idempotency: idempotency,
		Downloader: downloader, retention: retention,
	}
}

// Tick runs one sweep pass across every in-memory table, plus a rate-limited
// pass over the attachment directory.
func (s *Sweeper) Tick() {
	s.ResponseURLs.Sweep()
	s.Locks.Sweep()
	s.Inflight.Sweep()
	s.Streams.Sweep()
	s.Conversations.Sweep(conversationTTL)
	s.Idempotency.Sweep()
	s.maybeCleanupFiles()
}

func (s *Sweeper) maybeCleanupFiles() {
	if s.Downloader == nil {
		return
	}
	now := time.Now()
	if now.Sub(s.lastFileSwep) < fileCleanupInterval {
		return
	}
	s.lastFileSwep = now
	s.Downloader.Sweep(s.retention)
}

// Run ticks every interval until ctx is cancelled. Callers run it in its own
// goroutine from cmd/ wiring.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}
