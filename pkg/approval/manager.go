// Package approval implements the supervised-mode approval workflow: a
// pre-execution policy check for tool calls, a session-scoped allowlist that
// grows from "always" decisions, an audit trail, and the out-of-band
// request/confirm/reject flow used by non-CLI channels that can't show an
// interactive prompt.
package approval

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
)

// Response is the user's (or an auto-policy's) decision on a tool call.
type Response string

const (
	ResponseYes    Response = "yes"
	ResponseNo     Response = "no"
	ResponseAlways Response = "always"
)

// LogEntry is one audit-trail row.
type LogEntry struct {
	Timestamp        time.Time
	ToolName         string
	ArgumentsSummary string
	Decision         Response
	Channel          string
}

// PendingRequest is an out-of-band approval request awaiting explicit
// confirmation from the same requester on the same channel/reply target it
// was opened on.
type PendingRequest struct {
	RequestID           string
	ToolName            string
	RequestedBy         string
	RequestedChannel    string
	RequestedReplyTarget string
	Reason              string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

func (p PendingRequest) expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

var (
	ErrPendingNotFound           = errors.New("approval: pending request not found")
	ErrPendingExpired            = errors.New("approval: pending request expired")
	ErrPendingRequesterMismatch  = errors.New("approval: requester/channel/reply-target mismatch")
)

const (
	pendingRequestTTL    = 30 * time.Minute
	maxResolvedRequests  = 1024
)

// Manager implements the policy check, audit log, session allowlists, and
// pending out-of-band request tables for one running gateway. Safe for
// concurrent use.
type Manager struct {
	mu sync.RWMutex

	autonomyLevel config.AutonomyLevel
	autoApprove   map[string]bool
	alwaysAsk     map[string]bool

	sessionAllowlist map[string]bool

	nonCLIAllowlist              map[string]bool
	nonCLIAllowAllOnceRemaining  uint32
	nonCLIApprovers              map[string]bool
	nonCLIDefaultMode            config.NaturalLanguageApprovalMode
	nonCLIModeByChannel          map[string]config.NaturalLanguageApprovalMode

	pendingByID  map[string]PendingRequest
	resolvedByID map[string]Response
	resolvedOrder []string

	auditLog []LogEntry
}

// New builds a Manager seeded from an AutonomyConfig.
func New(cfg config.AutonomyConfig) *Manager {
	m := &Manager{
		autonomyLevel:       cfg.Level,
		autoApprove:         toSet(cfg.AutoApprove),
		alwaysAsk:           toSet(cfg.AlwaysAsk),
		sessionAllowlist:    make(map[string]bool),
		nonCLIAllowlist:     make(map[string]bool),
		nonCLIApprovers:     normalizeApprovers(cfg.NonCLIApprovalApprovers),
		nonCLIDefaultMode:   cfg.NonCLINaturalLanguageApprovalMode,
		nonCLIModeByChannel: normalizeModeByChannel(cfg.NonCLINaturalLanguageApprovalModeByChannel),
		pendingByID:         make(map[string]PendingRequest),
		resolvedByID:        make(map[string]Response),
	}
	if m.nonCLIDefaultMode == "" {
		m.nonCLIDefaultMode = config.ApprovalModeDirect
	}
	return m
}

func toSet(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e] = true
	}
	return set
}

func normalizeApprovers(entries []string) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e != "" {
			set[e] = true
		}
	}
	return set
}

func normalizeModeByChannel(entries map[string]config.NaturalLanguageApprovalMode) map[string]config.NaturalLanguageApprovalMode {
	out := make(map[string]config.NaturalLanguageApprovalMode, len(entries))
	for channel, mode := range entries {
		channel = strings.ToLower(strings.TrimSpace(channel))
		if channel != "" {
			out[channel] = mode
		}
	}
	return out
}

// NeedsApproval reports whether toolName requires a prompt before execution
// under the current policy.
func (m *Manager) NeedsApproval(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.autonomyLevel == config.AutonomyFull || m.autonomyLevel == config.AutonomyReadOnly {
		return false
	}
	if m.alwaysAsk[toolName] {
		return true
	}
	if m.autoApprove[toolName] {
		return false
	}
	if m.sessionAllowlist[toolName] {
		return false
	}
	return true
}

// RecordDecision logs a decision and, for ResponseAlways, adds toolName to
// the session allowlist.
func (m *Manager) RecordDecision(toolName string, args map[string]interface{}, decision Response, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if decision == ResponseAlways {
		m.sessionAllowlist[toolName] = true
	}
	m.auditLog = append(m.auditLog, LogEntry{
		Timestamp:        time.Now(),
		ToolName:         toolName,
		ArgumentsSummary: summarizeArgs(args),
		Decision:         decision,
		Channel:          channel,
	})
}

// AuditLog returns a snapshot of every recorded decision.
func (m *Manager) AuditLog() []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LogEntry, len(m.auditLog))
	copy(out, m.auditLog)
	return out
}

// SessionAllowlist returns the tools granted via an "always" decision this
// run.
func (m *Manager) SessionAllowlist() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.sessionAllowlist)
}

// GrantNonCLISession marks toolName as pre-approved for non-CLI channels.
func (m *Manager) GrantNonCLISession(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonCLIAllowlist[toolName] = true
}

// RevokeNonCLISession removes a prior non-CLI grant; reports whether one existed.
func (m *Manager) RevokeNonCLISession(toolName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	existed := m.nonCLIAllowlist[toolName]
	delete(m.nonCLIAllowlist, toolName)
	return existed
}

// IsNonCLISessionGranted reports whether toolName has a non-CLI grant.
func (m *Manager) IsNonCLISessionGranted(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nonCLIAllowlist[toolName]
}

// NonCLISessionAllowlist returns the granted non-CLI tool set.
func (m *Manager) NonCLISessionAllowlist() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.nonCLIAllowlist)
}

// GrantNonCLIAllowAllOnce increments and returns the remaining one-shot
// bypass token count.
func (m *Manager) GrantNonCLIAllowAllOnce() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonCLIAllowAllOnceRemaining++
	return m.nonCLIAllowAllOnceRemaining
}

// ConsumeNonCLIAllowAllOnce consumes one bypass token if any remain.
func (m *Manager) ConsumeNonCLIAllowAllOnce() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nonCLIAllowAllOnceRemaining == 0 {
		return false
	}
	m.nonCLIAllowAllOnceRemaining--
	return true
}

// NonCLIAllowAllOnceRemaining reports the outstanding bypass token count.
func (m *Manager) NonCLIAllowAllOnceRemaining() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nonCLIAllowAllOnceRemaining
}

// IsNonCLIApprovalActorAllowed checks sender/channel against the configured
// approver allowlist: "*", a bare sender, "channel:sender", "channel:*", or
// "*:sender" all match. An empty allowlist permits everyone.
func (m *Manager) IsNonCLIApprovalActorAllowed(channel, sender string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.nonCLIApprovers) == 0 {
		return true
	}
	if m.nonCLIApprovers["*"] || m.nonCLIApprovers[sender] {
		return true
	}
	if m.nonCLIApprovers[fmt.Sprintf("%s:%s", channel, sender)] {
		return true
	}
	if m.nonCLIApprovers[fmt.Sprintf("%s:*", channel)] {
		return true
	}
	return m.nonCLIApprovers[fmt.Sprintf("*:%s", sender)]
}

// NonCLINaturalLanguageApprovalModeForChannel returns the per-channel mode
// override, falling back to the default mode.
func (m *Manager) NonCLINaturalLanguageApprovalModeForChannel(channel string) config.NaturalLanguageApprovalMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode, ok := m.nonCLIModeByChannel[strings.ToLower(strings.TrimSpace(channel))]; ok {
		return mode
	}
	return m.nonCLIDefaultMode
}

// ApplyPersistentRuntimeGrant adds toolName to auto_approve and removes it
// from always_ask, taking effect immediately.
func (m *Manager) ApplyPersistentRuntimeGrant(toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoApprove[toolName] = true
	delete(m.alwaysAsk, toolName)
}

// ApplyPersistentRuntimeRevoke removes toolName from auto_approve; reports
// whether it was present.
func (m *Manager) ApplyPersistentRuntimeRevoke(toolName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	existed := m.autoApprove[toolName]
	delete(m.autoApprove, toolName)
	return existed
}

// AutoApproveTools returns the current auto-approve set.
func (m *Manager) AutoApproveTools() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.autoApprove)
}

// AlwaysAskTools returns the current always-ask set.
func (m *Manager) AlwaysAskTools() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keys(m.alwaysAsk)
}

// CreateNonCLIPendingRequest opens (or returns the existing) pending request
// for this exact (tool, requester, channel, reply target) tuple.
func (m *Manager) CreateNonCLIPendingRequest(toolName, requestedBy, requestedChannel, requestedReplyTarget, reason string) PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked()

	for _, req := range m.pendingByID {
		if req.ToolName == toolName && req.RequestedBy == requestedBy &&
			req.RequestedChannel == requestedChannel && req.RequestedReplyTarget == requestedReplyTarget {
			return req
		}
	}

	now := time.Now()
	id := newRequestID(m.pendingByID)
	req := PendingRequest{
		RequestID:            id,
		ToolName:              toolName,
		RequestedBy:           requestedBy,
		RequestedChannel:      requestedChannel,
		RequestedReplyTarget:  requestedReplyTarget,
		Reason:                reason,
		CreatedAt:             now,
		ExpiresAt:             now.Add(pendingRequestTTL),
	}
	m.pendingByID[id] = req
	delete(m.resolvedByID, id)
	return req
}

func newRequestID(existing map[string]PendingRequest) string {
	for {
		id := "apr-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		if _, taken := existing[id]; !taken {
			return id
		}
	}
}

// ConfirmNonCLIPendingRequest resolves a pending request, but only when the
// confirming actor matches the requester/channel/reply-target it was opened
// with.
func (m *Manager) ConfirmNonCLIPendingRequest(requestID, confirmedBy, confirmedChannel, confirmedReplyTarget string) (PendingRequest, error) {
	return m.resolvePending(requestID, confirmedBy, confirmedChannel, confirmedReplyTarget)
}

// RejectNonCLIPendingRequest removes a pending request under the same
// matching rule as confirm.
func (m *Manager) RejectNonCLIPendingRequest(requestID, rejectedBy, rejectedChannel, rejectedReplyTarget string) (PendingRequest, error) {
	return m.resolvePending(requestID, rejectedBy, rejectedChannel, rejectedReplyTarget)
}

func (m *Manager) resolvePending(requestID, actor, channel, replyTarget string) (PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked()

	req, ok := m.pendingByID[requestID]
	if !ok {
		return PendingRequest{}, ErrPendingNotFound
	}
	delete(m.pendingByID, requestID)

	if req.expired(time.Now()) {
		return PendingRequest{}, ErrPendingExpired
	}
	if req.RequestedBy != actor || req.RequestedChannel != channel || req.RequestedReplyTarget != replyTarget {
		m.pendingByID[requestID] = req
		return PendingRequest{}, ErrPendingRequesterMismatch
	}
	return req, nil
}

// HasNonCLIPendingRequest reports whether requestID is still open.
func (m *Manager) HasNonCLIPendingRequest(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked()
	_, ok := m.pendingByID[requestID]
	return ok
}

// RecordNonCLIPendingResolution stores a yes/no outcome for requestID,
// consumable once via TakeNonCLIPendingResolution. Always responses are not
// recorded here; they flow through RecordDecision instead.
func (m *Manager) RecordNonCLIPendingResolution(requestID string, decision Response) {
	if decision != ResponseYes && decision != ResponseNo {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resolvedByID) >= maxResolvedRequests && len(m.resolvedOrder) > 0 {
		oldest := m.resolvedOrder[0]
		m.resolvedOrder = m.resolvedOrder[1:]
		delete(m.resolvedByID, oldest)
	}
	if _, exists := m.resolvedByID[requestID]; !exists {
		m.resolvedOrder = append(m.resolvedOrder, requestID)
	}
	m.resolvedByID[requestID] = decision
}

// TakeNonCLIPendingResolution consumes and returns a recorded resolution, if any.
func (m *Manager) TakeNonCLIPendingResolution(requestID string) (Response, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	decision, ok := m.resolvedByID[requestID]
	if ok {
		delete(m.resolvedByID, requestID)
		for i, id := range m.resolvedOrder {
			if id == requestID {
				m.resolvedOrder = append(m.resolvedOrder[:i], m.resolvedOrder[i+1:]...)
				break
			}
		}
	}
	return decision, ok
}

// ListNonCLIPendingRequests filters pending requests by any combination of
// requester/channel/reply-target (empty string matches all), oldest first.
func (m *Manager) ListNonCLIPendingRequests(requestedBy, requestedChannel, requestedReplyTarget string) []PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked()

	var rows []PendingRequest
	for _, req := range m.pendingByID {
		if requestedBy != "" && req.RequestedBy != requestedBy {
			continue
		}
		if requestedChannel != "" && req.RequestedChannel != requestedChannel {
			continue
		}
		if requestedReplyTarget != "" && req.RequestedReplyTarget != requestedReplyTarget {
			continue
		}
		rows = append(rows, req)
	}
	sortByCreatedAt(rows)
	return rows
}

func sortByCreatedAt(rows []PendingRequest) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].CreatedAt.After(rows[j].CreatedAt); j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

// ClearNonCLIPendingRequestsForTool drops every pending request for toolName
// and returns how many were removed.
func (m *Manager) ClearNonCLIPendingRequestsForTool(toolName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneExpiredLocked()

	removed := 0
	for id, req := range m.pendingByID {
		if req.ToolName == toolName {
			delete(m.pendingByID, id)
			delete(m.resolvedByID, id)
			removed++
		}
	}
	return removed
}

// pruneExpiredLocked removes expired pending requests. Caller must hold m.mu.
func (m *Manager) pruneExpiredLocked() int {
	now := time.Now()
	removed := 0
	for id, req := range m.pendingByID {
		if req.expired(now) {
			delete(m.pendingByID, id)
			removed++
		}
	}
	return removed
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// PromptCLI shows the approval prompt on stderr and reads the decision from
// stdin. Non-CLI channels never call this; they go through the pending
// request flow instead.
func PromptCLI(toolName string, args map[string]interface{}) Response {
	summary := summarizeArgs(args)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "agent wants to execute: %s\n", toolName)
	fmt.Fprintf(os.Stderr, "   %s\n", summary)
	fmt.Fprintf(os.Stderr, "   [Y]es / [N]o / [A]lways for %s: ", toolName)

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return ResponseNo
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return ResponseYes
	case "a", "always":
		return ResponseAlways
	default:
		return ResponseNo
	}
}

// summarizeArgs renders tool arguments as a short "key: value, ..." line,
// truncating long values, for both the CLI prompt and the audit log.
func summarizeArgs(args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, v := range args {
		var val string
		if s, ok := v.(string); ok {
			val = truncateForSummary(s, 80)
		} else {
			val = truncateForSummary(fmt.Sprintf("%v", v), 80)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", k, val))
	}
	return strings.Join(parts, ", ")
}

func truncateForSummary(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "…"
}
