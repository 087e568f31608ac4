package wecom

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// streamContentLimit (S) is the UTF-8-safe byte bound on a stream snapshot's
// content. Replies longer than this are split: the head stays in the
// snapshot, the tail is dispatched separately (see dispatch.go).
const streamContentLimit = 20480

// streamExpiredMessage is served for a refresh poll against an absent or
// expired stream_id.
const streamExpiredMessage = "任务已结束或不存在。"

const maxStreamImages = 10

// StreamImage is one image attached to a stream's final update.
type StreamImage struct {
	Base64 string
	MD5Hex string
	Ext    string // one of jpg, jpeg, png
}

// StreamState is the authoritative payload served to WeCom's refresh polls
// for one stream_id. It transitions (bootstrap,false) -> (partial,false)* ->
// (final,true); images are only ever populated on the final update.
type StreamState struct {
	StreamID          string
	ExecutionScope    string
	ConversationScope string
	OwnerMsgID        string
	Content           string
	Finish            bool
	Images            []StreamImage
	ExpiresAt         time.Time
}

// StreamStore caches one StreamState per live stream_id.
type StreamStore struct {
	mu     sync.Mutex
	states map[string]*StreamState
	ttl    time.Duration
}

// NewStreamStore builds a store whose entries expire ttl after their last
// update (bootstrap counts as an update).
func NewStreamStore(ttl time.Duration) *StreamStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StreamStore{states: make(map[string]*StreamState), ttl: ttl}
}

// NewStreamID mints a random hex stream identifier.
func NewStreamID() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Bootstrap creates the initial (not finished, empty content) snapshot for a
// freshly acquired execution lock.
func (s *StreamStore) Bootstrap(streamID, executionScope, conversationScope, ownerMsgID string) *StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &StreamState{
		StreamID:          streamID,
		ExecutionScope:    executionScope,
		ConversationScope: conversationScope,
		OwnerMsgID:        ownerMsgID,
		ExpiresAt:         time.Now().Add(s.ttl),
	}
	s.states[streamID] = state
	return state
}

// Update replaces a snapshot's content without marking it finished — used
// for intermediate progress, if the agent surfaces any.
func (s *StreamStore) Update(streamID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[streamID]
	if !ok {
		return
	}
	state.Content = truncateUTF8(content, streamContentLimit)
	state.ExpiresAt = time.Now().Add(s.ttl)
}

// Finalize marks a snapshot finished, attaching content (already bounded to
// streamContentLimit by the caller, see SplitForSnapshot) and up to
// maxStreamImages images.
func (s *StreamStore) Finalize(streamID, content string, images []StreamImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[streamID]
	if !ok {
		return
	}
	if len(images) > maxStreamImages {
		images = images[:maxStreamImages]
	}
	state.Content = content
	state.Finish = true
	state.Images = images
	state.ExpiresAt = time.Now().Add(s.ttl)
}

// MarkStopped finalizes a snapshot with a stopped message — used when a new
// inbound message carries a stop signal for an already-locked execution
// scope.
func (s *StreamStore) MarkStopped(streamID, message string) {
	s.Finalize(streamID, message, nil)
}

// Snapshot returns the current state for streamID, or a finished state
// carrying streamExpiredMessage if absent or expired.
func (s *StreamStore) Snapshot(streamID string) StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[streamID]
	if !ok || !state.ExpiresAt.After(time.Now()) {
		return StreamState{StreamID: streamID, Content: streamExpiredMessage, Finish: true}
	}
	return *state
}

// Sweep prunes expired stream states; called from the periodic cleanup
// cadence.
func (s *StreamStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, state := range s.states {
		if !state.ExpiresAt.After(now) {
			delete(s.states, id)
		}
	}
}

// SplitForSnapshot splits reply on the streamContentLimit byte bound,
// cutting only on a UTF-8 character boundary: the head goes into the
// snapshot, the (possibly empty) tail is dispatched separately.
func SplitForSnapshot(reply string) (head, tail string) {
	if len(reply) <= streamContentLimit {
		return reply, ""
	}
	head = truncateUTF8(reply, streamContentLimit)
	return head, reply[len(head):]
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && isUTF8Continuation(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
