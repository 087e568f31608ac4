package wecom

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/leak"
)

const (
	historyWindowTurns = 12
	quoteMaxBytes      = 4096
)

// TurnRole distinguishes the two sides of a persisted conversation turn.
type TurnRole int

const (
	TurnUser TurnRole = iota
	TurnAssistant
)

// ConversationTurn is one persisted half-turn.
type ConversationTurn struct {
	Role    TurnRole
	Content string
}

// ConversationState is the per-conversation_scope history the turn
// orchestrator reads and updates. static_injected is sticky-true after the
// first successful turn, so the static context block is only ever composed
// once per scope.
type ConversationState struct {
	StaticInjected bool
	Turns          []ConversationTurn
	LastActiveAt   time.Time
}

// ConversationStore holds one ConversationState per conversation_scope.
type ConversationStore struct {
	mu       sync.Mutex
	states   map[string]*ConversationState
	maxTurns int
}

// NewConversationStore builds a store capping each scope's history at
// maxTurns turns (clamped to at least 2).
func NewConversationStore(maxTurns int) *ConversationStore {
	if maxTurns < 2 {
		maxTurns = 2
	}
	return &ConversationStore{states: make(map[string]*ConversationState), maxTurns: maxTurns}
}

// Snapshot returns a copy of scope's current state, or a zero state if none
// exists yet.
func (s *ConversationStore) Snapshot(scope string) ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[scope]; ok {
		turns := append([]ConversationTurn{}, state.Turns...)
		return ConversationState{StaticInjected: state.StaticInjected, Turns: turns, LastActiveAt: state.LastActiveAt}
	}
	return ConversationState{}
}

// Upsert appends a user/assistant turn pair to scope's history, trims from
// the front to maxTurns, and makes static_injected sticky-true.
func (s *ConversationStore) Upsert(scope string, staticInjected bool, userTurn, assistantTurn string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[scope]
	if !ok {
		state = &ConversationState{}
		s.states[scope] = state
	}
	state.StaticInjected = state.StaticInjected || staticInjected
	state.Turns = append(state.Turns, ConversationTurn{Role: TurnUser, Content: userTurn}, ConversationTurn{Role: TurnAssistant, Content: assistantTurn})
	if len(state.Turns) > s.maxTurns {
		state.Turns = state.Turns[len(state.Turns)-s.maxTurns:]
	}
	state.LastActiveAt = time.Now()
}

// Sweep removes conversations inactive for longer than ttl (spec.md default
// 48h).
func (s *ConversationStore) Sweep(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	for scope, state := range s.states {
		if state.LastActiveAt.Before(cutoff) {
			delete(s.states, scope)
		}
	}
}

// ComposedInput is the pair of strings a composed turn yields: the full
// prompt fed to the model, and the (possibly sender-prefixed) user turn text
// that gets persisted into history.
type ComposedInput struct {
	UserMessageForModel string
	UserTurnForHistory  string
}

func staticContext(msg *Message, scope Scope, includeSender bool) string {
	chatID := msg.ChatID
	if chatID == "" {
		chatID = "-"
	}
	lines := []string{
		"[WECOM_STATIC_CONTEXT_V1]",
		"chat_type=" + msg.ChatType,
		"chat_id=" + chatID,
		"conversation_scope=" + scope.ConversationScope,
		"execution_scope=" + scope.ExecutionScope,
		"aibot_id=" + msg.BotID,
		"push_url_memory_key=wecom_push_url::" + scope.ConversationScope,
		"push_url_set_hint=When user asks to configure proactive push, call memory_store with push_url_memory_key and store a valid WeCom robot webhook URL.",
	}
	if includeSender {
		lines = append(lines, "sender_userid="+msg.SenderUserID)
	}
	lines = append(lines, "[/WECOM_STATIC_CONTEXT_V1]")
	return strings.Join(lines, "\n")
}

func turnContext(msg *Message) string {
	return strings.Join([]string{
		"[WECOM_TURN_CONTEXT_V1]",
		"sender_userid=" + msg.SenderUserID,
		"msg_id=" + msg.MsgID,
		"[/WECOM_TURN_CONTEXT_V1]",
	}, "\n")
}

func formatTurnHistory(turns []ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[WECOM_HISTORY]\n")
	for _, t := range turns {
		switch t.Role {
		case TurnUser:
			b.WriteString("User: ")
		case TurnAssistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("[/WECOM_HISTORY]\n")
	return b.String()
}

// quoteBlock extracts the quoted-message block a reply refers to, if the
// inbound payload carries one under "quote". The quoted content is rendered
// per its own msgtype: plain text inline, a transcript placeholder for
// voice, and the already-resolved local path for image/file (callers pass
// the marker text the attachment pipeline already produced for the quoted
// attachment, if any).
func quoteBlock(msg *Message, quotedAttachmentMarker string) string {
	quote, ok := msg.Raw["quote"].(map[string]interface{})
	if !ok {
		return ""
	}
	quoteType, _ := quote["msgtype"].(string)
	if quoteType == "" {
		return ""
	}

	var content string
	switch quoteType {
	case "text":
		content = stringField(quote, "text", "content")
	case "voice":
		transcript := stringField(quote, "voice", "content")
		if transcript == "" {
			return truncateUTF8("[引用语音转写] (无转写)", quoteMaxBytes)
		}
		return truncateUTF8("[引用语音转写] "+transcript, quoteMaxBytes)
	case "image":
		if quotedAttachmentMarker == "" {
			return "[引用图片]"
		}
		return truncateUTF8("[引用图片] "+quotedAttachmentMarker, quoteMaxBytes)
	case "file":
		if quotedAttachmentMarker == "" {
			return "[引用文件]"
		}
		return truncateUTF8("[引用文件] "+quotedAttachmentMarker, quoteMaxBytes)
	default:
		return "[未知引用消息]"
	}

	if content == "" {
		return "[空引用消息]"
	}
	block := "[WECOM_QUOTE]\nmsgtype=" + quoteType + "\ncontent=" + content + "\n[/WECOM_QUOTE]"
	return truncateUTF8(block, quoteMaxBytes)
}

// ComposeInput builds the model input from, in order: static context (only
// if not yet injected), sliding history window, turn context (shared groups
// only), a quote block (if any), and the normalized user message.
func ComposeInput(msg *Message, scope Scope, normalized string, prior ConversationState, quotedAttachmentMarker string) ComposedInput {
	var blocks []string
	includeSenderInStatic := !scope.SharedGroupHistory

	if !prior.StaticInjected {
		blocks = append(blocks, staticContext(msg, scope, includeSenderInStatic))
	}

	historySlice := prior.Turns
	if len(historySlice) > historyWindowTurns {
		historySlice = historySlice[len(historySlice)-historyWindowTurns:]
	}
	if len(historySlice) > 0 {
		blocks = append(blocks, formatTurnHistory(historySlice))
	}

	if scope.SharedGroupHistory {
		blocks = append(blocks, turnContext(msg))
	}

	if q := quoteBlock(msg, quotedAttachmentMarker); q != "" {
		blocks = append(blocks, q)
	}

	blocks = append(blocks, normalized)

	userTurnForHistory := normalized
	if scope.SharedGroupHistory {
		userTurnForHistory = "[" + msg.SenderUserID + "] " + normalized
	}

	return ComposedInput{
		UserMessageForModel: strings.Join(blocks, "\n\n"),
		UserTurnForHistory:  userTurnForHistory,
	}
}

// Agent is the opaque tool-calling collaborator the turn orchestrator
// drives: compose the input, hand it the whole prompt, get back a reply.
// Everything about retries, tool iteration, and provider selection lives on
// the concrete implementation wired in cmd/.
type Agent interface {
	Run(ctx context.Context, composedInput string) (string, error)
}

// Orchestrator drives one full inbound turn: compose input from scope +
// history, invoke the agent, post-process the reply into a stream snapshot
// plus any dispatcher overflow, and persist the updated history.
type Orchestrator struct {
	Conversations *ConversationStore
	Streams       *StreamStore
	Dispatcher    *Dispatcher
	Agent         Agent
	apologyText   string
	leakDetector  *leak.Detector
}

// NewOrchestrator wires the pieces a turn needs. apologyText substitutes for
// the reply when the agent errors; the turn still finalizes its snapshot.
// Every reply is scanned by a leak detector before it is snapshotted or
// dispatched, so a credential a tool call surfaced never crosses the channel
// boundary unredacted.
func NewOrchestrator(conversations *ConversationStore, streams *StreamStore, dispatcher *Dispatcher, agent Agent, apologyText string) *Orchestrator {
	if apologyText == "" {
		apologyText = "抱歉，我暂时无法处理这条消息。"
	}
	return &Orchestrator{
		Conversations: conversations,
		Streams:       streams,
		Dispatcher:    dispatcher,
		Agent:         agent,
		apologyText:   apologyText,
		leakDetector:  leak.New(),
	}
}

// RunTurn composes input from msg/scope/normalized text, invokes the agent,
// post-processes image markers and the S-byte snapshot bound, updates the
// stream snapshot and persisted history, and dispatches any overflow tail.
func (o *Orchestrator) RunTurn(ctx context.Context, msg *Message, scope Scope, normalized, streamID, quotedAttachmentMarker string) {
	prior := o.Conversations.Snapshot(scope.ConversationScope)
	composed := ComposeInput(msg, scope, normalized, prior, quotedAttachmentMarker)

	reply, err := o.Agent.Run(ctx, composed.UserMessageForModel)
	if err != nil {
		reply = o.apologyText
	} else if scan := o.leakDetector.Scan(reply); scan.Detected {
		reply = scan.Redacted
	}

	text, paths := extractImageMarkers(reply)
	images := loadStreamImages(paths)
	head, tail := SplitForSnapshot(text)
	o.Streams.Finalize(streamID, head, images)

	o.Conversations.Upsert(scope.ConversationScope, true, composed.UserTurnForHistory, reply)

	if tail != "" {
		o.Dispatcher.SendWithFallbacks(ctx, scope.ConversationScope, "[补充消息]\n"+tail)
	}
}

// extractImageMarkers strips every "[IMAGE:<path>]" marker from text and
// returns the remaining text alongside the paths found, in order. Loading
// the files into base64/MD5 StreamImage values is the caller's job (it
// needs the size/extension/count limits from spec.md §4.G), so this just
// locates the paths.
func extractImageMarkers(text string) (string, []string) {
	const prefix = "[IMAGE:"
	var paths []string
	var out strings.Builder

	rest := text
	for {
		idx := strings.Index(rest, prefix)
		if idx < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[idx:], ']')
		if end < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:idx])
		paths = append(paths, rest[idx+len(prefix):idx+end])
		rest = rest[idx+end+1:]
	}
	return out.String(), paths
}

// loadStreamImages reads up to maxStreamImages paths from disk, base64-
// encodes and MD5-hashes each, and drops any entry over 10 MiB (after
// decode) or whose extension isn't jpg/jpeg/png.
func loadStreamImages(paths []string) []StreamImage {
	const maxImageBytes = 10 * 1024 * 1024
	allowedExt := map[string]bool{"jpg": true, "jpeg": true, "png": true}

	var images []StreamImage
	for _, p := range paths {
		if len(images) >= maxStreamImages {
			break
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
		if !allowedExt[ext] {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil || len(data) > maxImageBytes {
			continue
		}
		sum := md5.Sum(data)
		images = append(images, StreamImage{
			Base64: base64.StdEncoding.EncodeToString(data),
			MD5Hex: hex.EncodeToString(sum[:]),
			Ext:    ext,
		})
	}
	return images
}
