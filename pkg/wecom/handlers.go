package wecom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

// RuntimeConfig is the subset of config.WeComConfig the runtime needs,
// decoupled from the config package so this file stays independently
// testable with literal values.
type RuntimeConfig struct {
	Token                     string
	EncodingAESKey            string
	GroupSharedHistoryEnabled bool
	GroupSharedHistoryChatIDs []string
	FileRetentionDays         int
	MaxFileSizeBytes          int64
	ResponseURLCachePerScope  int
	LockTimeoutSecs           int
	HistoryMaxTurns           int
	FallbackRobotWebhookURL   string
	WorkspaceDir              string
}

// Runtime bundles every stateful piece the WeCom callback engine needs:
// crypto, scope config, the lock/stream/conversation/response-url tables,
// the attachment downloader, the outbound dispatcher, and the agent the
// turn orchestrator drives. One Runtime serves one configured WeCom bot.
type Runtime struct {
	crypto *Crypto
	scope  ScopeConfig

	locks         *LockTable
	inflight      *InflightRegistry
	streams       *StreamStore
	conversations *ConversationStore
	responseURLs  *ResponseURLCache
	idempotency   *IdempotencyStore

	downloader   *Downloader
	dispatcher   *Dispatcher
	orchestrator *Orchestrator
	sweeper      *Sweeper
}

// NewRuntime constructs a Runtime from its config and a wired Agent/PushURLStore.
func NewRuntime(cfg RuntimeConfig, agent Agent, pushURLs PushURLStore) (*Runtime, error) {
	crypto, err := NewCrypto(cfg.Token, cfg.EncodingAESKey)
	if err != nil {
		return nil, fmt.Errorf("wecom: building runtime: %w", err)
	}

	lockTimeout := time.Duration(cfg.LockTimeoutSecs) * time.Second
	responseCacheCap := cfg.ResponseURLCachePerScope
	if responseCacheCap < 1 {
		responseCacheCap = 1
	}
	retention := time.Duration(cfg.FileRetentionDays) * 24 * time.Hour

	downloader := NewDownloader(crypto, cfg.WorkspaceDir, cfg.MaxFileSizeBytes)
	responseURLs := NewResponseURLCache(responseCacheCap)
	dispatcher := NewDispatcher(responseURLs, pushURLs, cfg.FallbackRobotWebhookURL)
	locks := NewLockTable(lockTimeout)
	inflight := NewInflightRegistry()
	streams := NewStreamStore(lockTimeout)
	conversations := NewConversationStore(cfg.HistoryMaxTurns)
	idempotency := NewIdempotencyStore(time.Hour, 100_000)
	orchestrator := NewOrchestrator(conversations, streams, dispatcher, agent, "")
	sweeper := NewSweeper(responseURLs, locks, inflight, streams, conversations, idempotency, downloader, retention)

	return &Runtime{
		crypto: crypto,
		scope: ScopeConfig{
			GroupSharedHistoryEnabled: cfg.GroupSharedHistoryEnabled,
			GroupSharedHistoryChatIDs: cfg.GroupSharedHistoryChatIDs,
		},
		locks: locks, inflight: inflight, streams: streams, conversations: conversations,
		responseURLs: responseURLs, idempotency: idempotency,
		downloader: downloader, dispatcher: dispatcher, orchestrator: orchestrator, sweeper: sweeper,
	}, nil
}

// StartSweeper runs the periodic cleanup cadence in the background until ctx
// is cancelled. Callers in cmd/ own the goroutine's lifetime.
func (r *Runtime) StartSweeper(ctx context.Context, interval time.Duration) {
	go r.sweeper.Run(ctx, interval)
}

// VerifyQuery is the query-string shape of WeCom's one-time URL-verification
// callback.
type VerifyQuery struct {
	MsgSignature string
	Timestamp    string
	Nonce        string
	EchoStr      string
}

// CallbackQuery is the query-string shape of a live inbound callback.
type CallbackQuery struct {
	MsgSignature string
	Timestamp    string
	Nonce        string
}

// Response is a handler's decoupled-from-http.ResponseWriter result, so
// HandleCallback stays directly unit-testable without a router.
type Response struct {
	Status int
	Body   string
}

type encryptedEnvelope struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// HandleVerify services WeCom's one-time URL-verification GET: it checks the
// signature over echostr and writes the decrypted plaintext back verbatim.
func (r *Runtime) HandleVerify(w http.ResponseWriter, q VerifyQuery) {
	if q.EchoStr == "" {
		http.Error(w, `{"error":"missing echostr"}`, http.StatusBadRequest)
		return
	}
	if !r.crypto.VerifySignature(q.MsgSignature, q.Timestamp, q.Nonce, q.EchoStr) {
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}
	plain, err := r.crypto.DecryptEnvelope(q.EchoStr, "")
	if err != nil {
		logger.WarnCF("wecom", "verify decrypt failed", map[string]interface{}{"error": err.Error()})
		http.Error(w, `{"error":"decrypt failed"}`, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plain)
}

// HandleCallback decrypts and parses one inbound callback, dedupes it,
// acquires the execution lock or serves a busy/stopped reply, then spawns
// the turn asynchronously. A body that is not valid JSON, fails signature
// verification, fails to decrypt or decrypts to invalid callback JSON gets a
// 400 or 401 with a JSON error body. Otherwise the webhook replies 200, and
// the body is either the literal "success" (callbacks ParseInbound rejects,
// dedupe hits, unsupported types) or an encrypted envelope carrying the passive reply
// (the bootstrap/busy/stopped/refresh stream snapshot) that dispatchInbound
// hands back.
func (r *Runtime) HandleCallback(ctx context.Context, q CallbackQuery, body []byte) Response {
	var envelope encryptedEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Response{Status: http.StatusBadRequest, Body: `{"error":"invalid encrypted payload"}`}
	}

	if !r.crypto.VerifySignature(q.MsgSignature, q.Timestamp, q.Nonce, envelope.Encrypt) {
		return Response{Status: http.StatusUnauthorized, Body: `{"error":"invalid signature"}`}
	}

	plain, err := r.crypto.DecryptEnvelope(envelope.Encrypt, "")
	if err != nil {
		logger.WarnCF("wecom", "callback decrypt failed", map[string]interface{}{"error": err.Error()})
		return Response{Status: http.StatusBadRequest, Body: `{"error":"decrypt failed"}`}
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(plain, &raw); err != nil {
		return Response{Status: http.StatusBadRequest, Body: `{"error":"invalid callback json"}`}
	}

	msg, err := ParseInbound(raw)
	if err != nil {
		logger.WarnCF("wecom", "callback parse failed", map[string]interface{}{"error": err.Error()})
		return Response{Status: http.StatusOK, Body: "success"}
	}

	if msg.MsgID != "" {
		if !r.idempotency.RecordIfNew("wecom_msg_" + msg.MsgID) {
			return Response{Status: http.StatusOK, Body: "success"}
		}
	}

	state := r.dispatchInbound(ctx, msg)
	if state == nil {
		return Response{Status: http.StatusOK, Body: "success"}
	}
	return r.encryptStreamReply(*state, q)
}

// encryptStreamReply builds the §6 stream reply payload for state, encrypts
// it under the callback's nonce/timestamp with an empty receive_id (per
// spec §6), and marshals the resulting envelope as the callback body. Any
// failure here falls back to the plain "success" acknowledgement rather than
// surfacing a crypto error to WeCom, consistent with HandleCallback never
// erroring out on background-path problems.
func (r *Runtime) encryptStreamReply(state StreamState, q CallbackQuery) Response {
	payload := buildStreamReplyPayload(state)
	envelope, err := r.crypto.EncryptEnvelope(payload, q.Nonce, q.Timestamp, "")
	if err != nil {
		logger.WarnCF("wecom", "encrypting passive reply failed", map[string]interface{}{"error": err.Error()})
		return Response{Status: http.StatusOK, Body: "success"}
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		logger.WarnCF("wecom", "marshaling passive reply failed", map[string]interface{}{"error": err.Error()})
		return Response{Status: http.StatusOK, Body: "success"}
	}
	return Response{Status: http.StatusOK, Body: string(data)}
}

// streamReplyPayload, streamReplyBody, streamReplyItem, and streamReplyImage
// mirror spec §6's "Stream reply payload" JSON shape exactly.
type streamReplyPayload struct {
	MsgType string          `json:"msgtype"`
	Stream  streamReplyBody `json:"stream"`
}

type streamReplyBody struct {
	ID      string            `json:"id"`
	Finish  bool              `json:"finish"`
	Content string            `json:"content"`
	MsgItem []streamReplyItem `json:"msg_item,omitempty"`
}

type streamReplyItem struct {
	MsgType string           `json:"msgtype"`
	Image   streamReplyImage `json:"image"`
}

type streamReplyImage struct {
	Base64 string `json:"base64"`
	MD5    string `json:"md5"`
}

// buildStreamReplyPayload serializes state into the plaintext stream reply
// body; msg_item is only populated when the snapshot is finished and carries
// images, per spec §6.
func buildStreamReplyPayload(state StreamState) []byte {
	body := streamReplyBody{ID: state.StreamID, Finish: state.Finish, Content: state.Content}
	if state.Finish && len(state.Images) > 0 {
		items := make([]streamReplyItem, 0, len(state.Images))
		for _, img := range state.Images {
			items = append(items, streamReplyItem{MsgType: "image", Image: streamReplyImage{Base64: img.Base64, MD5: img.MD5Hex}})
		}
		body.MsgItem = items
	}
	data, _ := json.Marshal(streamReplyPayload{MsgType: "stream", Stream: body})
	return data
}

// dispatchInbound runs the scope/stream/lock dance, spawns the turn in its
// own goroutine so HandleCallback can return to WeCom immediately, and
// returns whichever stream snapshot the platform should receive as its
// passive reply (nil when no stream reply applies, e.g. a genuinely
// unsupported message).
func (r *Runtime) dispatchInbound(ctx context.Context, msg *Message) *StreamState {
	scope := ComputeScopes(r.scope, msg)
	r.responseURLs.Cache(scope.ConversationScope, msg.MsgID, msg.ResponseURL)

	// A "stream" msgtype carries no new content: it is WeCom re-polling an
	// already-minted stream_id for its current snapshot (msg_id is empty for
	// these per spec §3).
	if msg.MsgType == "stream" {
		streamID := stringField(msg.Raw, "stream", "id")
		state := r.streams.Snapshot(streamID)
		return &state
	}

	normalized := NormalizeMessage(msg, r.downloader)
	switch normalized.Kind {
	case NormalizedVoiceMissingTranscript:
		r.dispatcher.SendWithFallbacks(ctx, scope.ConversationScope, "我现在无法处理语音消息")
		return nil
	case NormalizedUnsupported:
		logger.InfoCF("wecom", "unsupported message ignored", map[string]interface{}{
			"msg_type": msg.MsgType, "msg_id": msg.MsgID,
		})
		return nil
	}

	if strings.TrimSpace(normalized.Text) != "" && IsStopSignal(normalized.Text) {
		if ownerMsgID, streamID, held := r.locks.Owner(scope.ExecutionScope); held {
			r.inflight.Stop(scope.ExecutionScope)
			r.streams.MarkStopped(streamID, "已停止当前消息处理。")
			r.locks.ForceRelease(scope.ExecutionScope)
			_ = ownerMsgID

			stoppedID := NewStreamID()
			r.streams.Bootstrap(stoppedID, scope.ExecutionScope, scope.ConversationScope, msg.MsgID)
			r.streams.Finalize(stoppedID, "已停止当前消息处理。", nil)
			state := r.streams.Snapshot(stoppedID)
			return &state
		}
	}

	newStreamID := NewStreamID()
	if !r.locks.TryAcquire(scope.ExecutionScope, msg.MsgID, newStreamID) {
		busyID := NewStreamID()
		r.streams.Bootstrap(busyID, scope.ExecutionScope, scope.ConversationScope, msg.MsgID)
		r.streams.Finalize(busyID, "有消息正在处理中，但是多了一次回复机会！", nil)
		state := r.streams.Snapshot(busyID)
		return &state
	}
	r.streams.Bootstrap(newStreamID, scope.ExecutionScope, scope.ConversationScope, msg.MsgID)

	turnCtx, cancel := context.WithCancel(context.Background())
	r.inflight.Start(scope.ExecutionScope, msg.MsgID, newStreamID, time.Hour, cancel)

	go func() {
		defer cancel()
		defer r.inflight.Finish(scope.ExecutionScope)
		defer r.locks.Release(scope.ExecutionScope, msg.MsgID)
		r.orchestrator.RunTurn(turnCtx, msg, scope, normalized.Text, newStreamID, "")
	}()

	state := r.streams.Snapshot(newStreamID)
	return &state
}
