package approval

import (
	"strings"
	"testing"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
)

func supervisedConfig() config.AutonomyConfig {
	return config.AutonomyConfig{
		Level:       config.AutonomySupervised,
		AutoApprove: []string{"file_read", "memory_recall"},
		AlwaysAsk:   []string{"shell"},
	}
}

func fullConfig() config.AutonomyConfig {
	return config.AutonomyConfig{Level: config.AutonomyFull}
}

func TestAutoApproveToolsSkipPrompt(t *testing.T) {
	m := New(supervisedConfig())
	if m.NeedsApproval("file_read") || m.NeedsApproval("memory_recall") {
		t.Fatal("expected auto_approve tools to skip the prompt")
	}
}

func TestAlwaysAskToolsAlwaysPrompt(t *testing.T) {
	m := New(supervisedConfig())
	if !m.NeedsApproval("shell") {
		t.Fatal("expected always_ask tool to prompt")
	}
}

func TestUnknownToolNeedsApprovalInSupervised(t *testing.T) {
	m := New(supervisedConfig())
	if !m.NeedsApproval("file_write") || !m.NeedsApproval("http_request") {
		t.Fatal("expected unknown tools to require approval under supervised autonomy")
	}
}

func TestFullAutonomyNeverPrompts(t *testing.T) {
	m := New(fullConfig())
	for _, tool := range []string{"shell", "file_write", "anything"} {
		if m.NeedsApproval(tool) {
			t.Fatalf("expected %q to never prompt under full autonomy", tool)
		}
	}
}

func TestReadOnlyNeverPrompts(t *testing.T) {
	m := New(config.AutonomyConfig{Level: config.AutonomyReadOnly})
	if m.NeedsApproval("shell") {
		t.Fatal("expected read-only autonomy to never prompt")
	}
}

func TestAlwaysResponseAddsToSessionAllowlist(t *testing.T) {
	m := New(supervisedConfig())
	if !m.NeedsApproval("file_write") {
		t.Fatal("expected file_write to need approval initially")
	}
	m.RecordDecision("file_write", map[string]interface{}{"path": "test.txt"}, ResponseAlways, "cli")
	if m.NeedsApproval("file_write") {
		t.Fatal("expected file_write to be allowlisted after an always decision")
	}
}

func TestAlwaysAskOverridesSessionAllowlist(t *testing.T) {
	m := New(supervisedConfig())
	m.RecordDecision("shell", map[string]interface{}{"command": "ls"}, ResponseAlways, "cli")
	if !m.NeedsApproval("shell") {
		t.Fatal("expected shell to still require approval since it's in always_ask")
	}
}

func TestYesResponseDoesNotAddToAllowlist(t *testing.T) {
	m := New(supervisedConfig())
	m.RecordDecision("file_write", map[string]interface{}{}, ResponseYes, "cli")
	if !m.NeedsApproval("file_write") {
		t.Fatal("expected a one-off yes decision to not allowlist the tool")
	}
}

func TestNonCLISessionApprovalPersistsAcrossChecks(t *testing.T) {
	m := New(supervisedConfig())
	if m.IsNonCLISessionGranted("shell") {
		t.Fatal("expected no initial grant")
	}
	m.GrantNonCLISession("shell")
	if !m.IsNonCLISessionGranted("shell") || !m.IsNonCLISessionGranted("shell") {
		t.Fatal("expected grant to persist across repeated checks")
	}
}

func TestNonCLISessionApprovalCanBeRevoked(t *testing.T) {
	m := New(supervisedConfig())
	m.GrantNonCLISession("shell")
	if !m.RevokeNonCLISession("shell") {
		t.Fatal("expected revoke of a granted tool to report true")
	}
	if m.IsNonCLISessionGranted("shell") {
		t.Fatal("expected grant to be gone after revoke")
	}
	if m.RevokeNonCLISession("shell") {
		t.Fatal("expected revoke of an ungranted tool to report false")
	}
}

func TestNonCLIAllowAllOnceTokensAreCountedAndConsumed(t *testing.T) {
	m := New(supervisedConfig())
	if m.NonCLIAllowAllOnceRemaining() != 0 || m.ConsumeNonCLIAllowAllOnce() {
		t.Fatal("expected zero tokens initially")
	}
	if m.GrantNonCLIAllowAllOnce() != 1 || m.GrantNonCLIAllowAllOnce() != 2 {
		t.Fatal("expected grant to increment sequentially")
	}
	if m.NonCLIAllowAllOnceRemaining() != 2 {
		t.Fatal("expected two remaining tokens")
	}
	if !m.ConsumeNonCLIAllowAllOnce() || m.NonCLIAllowAllOnceRemaining() != 1 {
		t.Fatal("expected consume to decrement")
	}
	if !m.ConsumeNonCLIAllowAllOnce() || m.NonCLIAllowAllOnceRemaining() != 0 {
		t.Fatal("expected second consume to drain remaining tokens")
	}
	if m.ConsumeNonCLIAllowAllOnce() {
		t.Fatal("expected consume to fail once drained")
	}
}

func TestPersistentRuntimeGrantUpdatesPolicyImmediately(t *testing.T) {
	m := New(supervisedConfig())
	if !m.NeedsApproval("shell") {
		t.Fatal("expected shell to need approval before grant")
	}
	m.ApplyPersistentRuntimeGrant("shell")
	if m.NeedsApproval("shell") {
		t.Fatal("expected grant to bypass the prompt immediately")
	}
	if !contains(m.AutoApproveTools(), "shell") {
		t.Fatal("expected shell in auto_approve after grant")
	}
	if contains(m.AlwaysAskTools(), "shell") {
		t.Fatal("expected shell removed from always_ask after grant")
	}
}

func TestPersistentRuntimeRevokeUpdatesPolicyImmediately(t *testing.T) {
	m := New(supervisedConfig())
	if m.NeedsApproval("file_read") {
		t.Fatal("expected file_read to be auto-approved initially")
	}
	if !m.ApplyPersistentRuntimeRevoke("file_read") {
		t.Fatal("expected revoke of a granted tool to report true")
	}
	if !m.NeedsApproval("file_read") {
		t.Fatal("expected file_read to need approval after revoke")
	}
	if m.ApplyPersistentRuntimeRevoke("file_read") {
		t.Fatal("expected second revoke to report false")
	}
}

func TestCreateAndConfirmPendingNonCLIApprovalRequest(t *testing.T) {
	m := New(supervisedConfig())
	req := m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")
	if req.ToolName != "shell" || !strings.HasPrefix(req.RequestID, "apr-") {
		t.Fatalf("unexpected pending request: %+v", req)
	}
	confirmed, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "alice", "wecom", "chat-1")
	if err != nil || confirmed.RequestID != req.RequestID {
		t.Fatalf("expected confirm to succeed, got %v / %+v", err, confirmed)
	}
	if _, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "alice", "wecom", "chat-1"); err == nil {
		t.Fatal("expected re-confirming a consumed request to fail")
	}
}

func TestCreateAndRejectPendingNonCLIApprovalRequest(t *testing.T) {
	m := New(supervisedConfig())
	req := m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")
	rejected, err := m.RejectNonCLIPendingRequest(req.RequestID, "alice", "wecom", "chat-1")
	if err != nil || rejected.RequestID != req.RequestID {
		t.Fatalf("expected reject to succeed, got %v", err)
	}
	if m.HasNonCLIPendingRequest(req.RequestID) {
		t.Fatal("expected request gone after reject")
	}
}

func TestPendingNonCLIResolutionIsRecordedAndConsumed(t *testing.T) {
	m := New(supervisedConfig())
	req := m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")
	m.RecordNonCLIPendingResolution(req.RequestID, ResponseYes)
	decision, ok := m.TakeNonCLIPendingResolution(req.RequestID)
	if !ok || decision != ResponseYes {
		t.Fatalf("expected recorded yes resolution, got %v/%v", decision, ok)
	}
	if _, ok := m.TakeNonCLIPendingResolution(req.RequestID); ok {
		t.Fatal("expected resolution to be consumed exactly once")
	}
}

func TestPendingNonCLIApprovalRequiresSameSenderAndChannel(t *testing.T) {
	m := New(supervisedConfig())
	req := m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")

	if _, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "bob", "wecom", "chat-1"); err != ErrPendingRequesterMismatch {
		t.Fatalf("expected requester mismatch, got %v", err)
	}
	if got := len(m.ListNonCLIPendingRequests("alice", "wecom", "chat-1")); got != 1 {
		t.Fatalf("expected request to remain pending after mismatch, got %d", got)
	}
	if _, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "alice", "slack", "chat-1"); err != ErrPendingRequesterMismatch {
		t.Fatalf("expected channel mismatch, got %v", err)
	}
	if _, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "alice", "wecom", "chat-2"); err != ErrPendingRequesterMismatch {
		t.Fatalf("expected reply-target mismatch, got %v", err)
	}
}

func TestListPendingNonCLIApprovalsFiltersScope(t *testing.T) {
	m := New(supervisedConfig())
	m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")
	m.CreateNonCLIPendingRequest("file_write", "bob", "wecom", "chat-1", "")
	m.CreateNonCLIPendingRequest("browser_open", "alice", "slack", "chat-9", "")
	m.CreateNonCLIPendingRequest("schedule", "alice", "wecom", "chat-2", "")

	aliceWecom := m.ListNonCLIPendingRequests("alice", "wecom", "chat-1")
	if len(aliceWecom) != 1 || aliceWecom[0].ToolName != "shell" {
		t.Fatalf("unexpected scoped list: %+v", aliceWecom)
	}
	wecomChat1 := m.ListNonCLIPendingRequests("", "wecom", "chat-1")
	if len(wecomChat1) != 2 {
		t.Fatalf("expected 2 requests for wecom/chat-1, got %d", len(wecomChat1))
	}
}

func TestPendingNonCLIApprovalExpiryIsPruned(t *testing.T) {
	m := New(supervisedConfig())
	req := m.CreateNonCLIPendingRequest("shell", "alice", "wecom", "chat-1", "")

	m.mu.Lock()
	row := m.pendingByID[req.RequestID]
	row.ExpiresAt = time.Now().Add(-time.Minute)
	m.pendingByID[req.RequestID] = row
	m.mu.Unlock()

	if rows := m.ListNonCLIPendingRequests("", "", ""); len(rows) != 0 {
		t.Fatalf("expected expired request to be pruned, got %+v", rows)
	}
	if _, err := m.ConfirmNonCLIPendingRequest(req.RequestID, "alice", "wecom", "chat-1"); err != ErrPendingNotFound {
		t.Fatalf("expected not-found after expiry prune, got %v", err)
	}
}

func TestNonCLIApprovalActorDefaultsToAllowWhenNotConfigured(t *testing.T) {
	m := New(supervisedConfig())
	if !m.IsNonCLIApprovalActorAllowed("wecom", "alice") || !m.IsNonCLIApprovalActorAllowed("slack", "bob") {
		t.Fatal("expected unrestricted approver list to allow everyone")
	}
}

func TestNonCLINaturalLanguageApprovalModeDefaultsToDirect(t *testing.T) {
	m := New(supervisedConfig())
	if mode := m.NonCLINaturalLanguageApprovalModeForChannel("wecom"); mode != config.ApprovalModeDirect {
		t.Fatalf("expected default Direct mode, got %v", mode)
	}
}

func TestNonCLIApprovalActorAllowlistSupportsExactAndWildcards(t *testing.T) {
	cfg := supervisedConfig()
	cfg.NonCLIApprovalApprovers = []string{"alice", "wecom:bob", "slack:*", "*:carol"}
	m := New(cfg)

	if !m.IsNonCLIApprovalActorAllowed("wecom", "alice") {
		t.Fatal("expected bare-name entry to match any channel")
	}
	if !m.IsNonCLIApprovalActorAllowed("wecom", "bob") {
		t.Fatal("expected channel:sender entry to match")
	}
	if !m.IsNonCLIApprovalActorAllowed("slack", "anyone") {
		t.Fatal("expected channel:* entry to match any sender")
	}
	if !m.IsNonCLIApprovalActorAllowed("github", "carol") {
		t.Fatal("expected *:sender entry to match any channel")
	}
	if m.IsNonCLIApprovalActorAllowed("wecom", "mallory") {
		t.Fatal("expected unlisted sender to be denied")
	}
	if m.IsNonCLIApprovalActorAllowed("github", "bob") {
		t.Fatal("expected channel-scoped entry to not leak to other channels")
	}
}

func TestSummarizeArgsTruncatesLongValues(t *testing.T) {
	longVal := strings.Repeat("x", 200)
	summary := summarizeArgs(map[string]interface{}{"content": longVal})
	if !strings.Contains(summary, "…") {
		t.Fatal("expected truncation ellipsis in summary")
	}
	if len(summary) >= 200 {
		t.Fatalf("expected summary to be truncated, got length %d", len(summary))
	}
}

func TestSummarizeArgsUnicodeSafeTruncation(t *testing.T) {
	longVal := strings.Repeat("🦀", 120)
	summary := summarizeArgs(map[string]interface{}{"content": longVal})
	if !strings.Contains(summary, "content:") || !strings.Contains(summary, "…") {
		t.Fatalf("unexpected summary: %q", summary)
	}
}

func TestAuditLogRecordsDecisions(t *testing.T) {
	m := New(supervisedConfig())
	m.RecordDecision("shell", map[string]interface{}{"command": "rm -rf ./build/"}, ResponseNo, "cli")
	m.RecordDecision("file_write", map[string]interface{}{"path": "out.txt"}, ResponseYes, "cli")

	log := m.AuditLog()
	if len(log) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(log))
	}
	if log[0].ToolName != "shell" || log[0].Decision != ResponseNo {
		t.Fatalf("unexpected first entry: %+v", log[0])
	}
	if log[1].ToolName != "file_write" || log[1].Decision != ResponseYes {
		t.Fatalf("unexpected second entry: %+v", log[1])
	}
}

func TestAuditLogContainsTimestampAndChannel(t *testing.T) {
	m := New(supervisedConfig())
	m.RecordDecision("shell", map[string]interface{}{"command": "ls"}, ResponseYes, "wecom")
	log := m.AuditLog()
	if len(log) != 1 || log[0].Timestamp.IsZero() || log[0].Channel != "wecom" {
		t.Fatalf("unexpected audit entry: %+v", log)
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
