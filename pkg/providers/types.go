package providers

import (
	"context"

	"github.com/zeroclaw-labs/zeroclaw/pkg/media"
)

// Message is a single turn in the conversation sent to an LLMProvider.
// Role is one of "system", "user", "assistant", "tool".
type Message struct {
	Role         string
	Content      string
	ToolCallID   string              // set on role="tool" result messages
	ToolCalls    []ToolCall          // set on role="assistant" messages that invoked tools
	ContentParts []media.ContentPart // multimodal parts, set on role="user" when media was attached
}

// FunctionCall is the wire-shaped (stringified-arguments) form of a tool
// invocation, mirrored by most LLM APIs alongside the structured ToolCall.
type FunctionCall struct {
	Name      string
	Arguments string // JSON-encoded
}

// ToolCall is a single tool invocation, either requested by the model
// (Arguments populated as a map) or replayed from history (Function
// populated with the original JSON string).
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments map[string]interface{}
	Function  *FunctionCall
}

// FunctionDef describes one callable tool in the shape providers expect.
type FunctionDef struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolDefinition wraps a FunctionDef the way OpenAI/Anthropic-style APIs
// expect tool declarations to be framed ({"type": "function", "function": {...}}).
type ToolDefinition struct {
	Type     string
	Function FunctionDef
}

// UsageInfo reports token accounting for a single Chat/ChatStream call.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMResponse is the normalized result of a Chat/ChatStream call.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *UsageInfo
}

// LLMProvider is the minimal interface the agent loop drives: one
// request/response round of chat completion, optionally with tool
// definitions attached.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}

// StreamCallback receives each incremental text delta as it arrives.
type StreamCallback func(delta string)

// StreamingProvider is implemented by providers that can stream partial
// content as it's generated. Not every provider supports this — callers
// type-assert before using it.
type StreamingProvider interface {
	ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error)
}
