package tools

import (
	"context"
	"fmt"

	"github.com/zeroclaw-labs/zeroclaw/pkg/approval"
	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
)

// ApprovalGatedTool wraps another Tool with the supervised-mode approval
// policy: a call that the manager flags as needing approval is blocked and
// turned into an out-of-band pending request instead of executing, unless
// the channel's natural-language approval mode is Direct.
type ApprovalGatedTool struct {
	inner   Tool
	manager *approval.Manager
	channel string
	chatID  string
}

// NewApprovalGatedTool wraps inner so every Execute call is policy-checked
// against manager before running.
func NewApprovalGatedTool(inner Tool, manager *approval.Manager) *ApprovalGatedTool {
	return &ApprovalGatedTool{inner: inner, manager: manager}
}

func (g *ApprovalGatedTool) Name() string               { return g.inner.Name() }
func (g *ApprovalGatedTool) Description() string        { return g.inner.Description() }
func (g *ApprovalGatedTool) Parameters() map[string]interface{} { return g.inner.Parameters() }

// SetContext implements ContextualTool so the gate can attribute a pending
// request to the originating channel/chat, and forwards to the wrapped
// tool when it also wants this context.
func (g *ApprovalGatedTool) SetContext(channel, chatID string) {
	g.channel = channel
	g.chatID = chatID
	if ct, ok := g.inner.(ContextualTool); ok {
		ct.SetContext(channel, chatID)
	}
}

// SetMetadata implements MetadataAwareTool by forwarding straight through to
// the wrapped tool; the gate itself has no use for inbound metadata.
func (g *ApprovalGatedTool) SetMetadata(metadata map[string]string) {
	if mt, ok := g.inner.(MetadataAwareTool); ok {
		mt.SetMetadata(metadata)
	}
}

func (g *ApprovalGatedTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	name := g.inner.Name()
	if g.manager == nil || !g.manager.NeedsApproval(name) || g.manager.IsNonCLISessionGranted(name) {
		return g.inner.Execute(ctx, args)
	}

	mode := g.manager.NonCLINaturalLanguageApprovalModeForChannel(g.channel)
	switch mode {
	case config.ApprovalModeDisabled:
		g.manager.RecordDecision(name, args, approval.ResponseNo, g.channel)
		return ErrorResult(fmt.Sprintf("Tool %q requires approval, which is disabled on this channel.", name))
	case config.ApprovalModeDirect:
		g.manager.RecordDecision(name, args, approval.ResponseYes, g.channel)
		return g.inner.Execute(ctx, args)
	default:
		req := g.manager.CreateNonCLIPendingRequest(name, g.chatID, g.channel, g.chatID,
			fmt.Sprintf("tool call %q", name))
		return ErrorResult(fmt.Sprintf(
			"Tool %q requires approval before it can run. Request %s is pending confirmation.",
			name, req.RequestID))
	}
}
