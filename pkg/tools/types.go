// Package tools defines the Tool contract the agent loop drives and the
// registry used to look tools up by name and translate them into provider
// tool definitions.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zeroclaw-labs/zeroclaw/pkg/providers"
)

// ToolResult is what every Tool.Execute call returns. ForLLM is fed back
// into the conversation as the tool-result message; ForUser, when non-empty
// and not Silent, is pushed to the user immediately rather than waiting for
// the model's next turn.
type ToolResult struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

// ErrorResult builds a ToolResult reporting a tool-level failure back to the model.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, IsError: true}
}

// SilentResult builds a successful ToolResult that is only shown to the model.
func SilentResult(msg string) *ToolResult {
	return &ToolResult{ForLLM: msg, Silent: true}
}

// Tool is the contract every agent-invocable action implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ContextualTool is implemented by tools that need to know the originating
// channel/chat before Execute runs (e.g. the message tool's default send target).
type ContextualTool interface {
	SetContext(channel, chatID string)
}

// MetadataAwareTool is implemented by tools that want the inbound message's
// metadata (thread IDs, reply targets) without it being threaded through args.
type MetadataAwareTool interface {
	SetMetadata(metadata map[string]string)
}

// AsyncCallback is invoked when a tool that runs work in the background
// (beyond the Execute call returning) completes.
type AsyncCallback func(ctx context.Context, result *ToolResult)

// AsyncTool is implemented by tools whose Execute call only kicks off work;
// the real result arrives later via the callback passed to ExecuteWithContext.
type AsyncTool interface {
	ExecuteAsync(ctx context.Context, args map[string]interface{}, callback AsyncCallback)
}

// ToolRegistry holds the set of tools available to one agent invocation and
// translates them into the provider-facing tool definition list.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

func (r *ToolRegistry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered tool names in registration order.
func (r *ToolRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// GetSummaries returns a one-line "name: description" string per tool, sorted
// by name, for inclusion in a system prompt's tool-awareness section.
func (r *ToolRegistry) GetSummaries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	summaries := make([]string, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, fmt.Sprintf("- %s: %s", name, r.tools[name].Description()))
	}
	return summaries
}

// ToProviderDefs translates every registered tool into the provider-facing
// ToolDefinition shape.
func (r *ToolRegistry) ToProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// ExecuteWithContext looks up name, applies channel/chatID to ContextualTool
// implementations, and executes it. callback is invoked for AsyncTool
// implementations once their background work completes; it is ignored for
// synchronous tools.
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, channel, chatID string, callback AsyncCallback) *ToolResult {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if ct, ok := t.(ContextualTool); ok {
		ct.SetContext(channel, chatID)
	}
	if at, ok := t.(AsyncTool); ok && callback != nil {
		at.ExecuteAsync(ctx, args, callback)
		return &ToolResult{ForLLM: fmt.Sprintf("%s is running in the background", name), Silent: true}
	}
	return t.Execute(ctx, args)
}
