// Package agent drives one tool-calling LLM turn: it feeds the model a
// composed system prompt, conversation history, and the current user
// message, executes whatever tools the model calls, and feeds their results
// back until the model produces a plain reply or the iteration budget runs
// out.
package agent

import (
	"context"
	"fmt"

	"github.com/zeroclaw-labs/zeroclaw/pkg/media"
	"github.com/zeroclaw-labs/zeroclaw/pkg/metrics"
	"github.com/zeroclaw-labs/zeroclaw/pkg/providers"
	"github.com/zeroclaw-labs/zeroclaw/pkg/tools"
)

// Config wires an Agent to its model, tool set, and limits. It is built once
// per deployment and shared across turns; Run is safe to call concurrently
// as long as the ToolRegistry's tools tolerate concurrent Execute calls.
type Config struct {
	Provider          providers.LLMProvider
	Tools             *tools.ToolRegistry
	Model             string
	MaxTokens         int
	MaxToolIterations int
	Tracker           *metrics.Tracker
}

// Agent runs turns against one configured provider and tool set.
type Agent struct {
	cfg Config
}

// New builds an Agent, filling in the teacher-observed defaults for any
// zero-valued limit.
func New(cfg Config) *Agent {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &Agent{cfg: cfg}
}

// TurnInput is the fully composed input for one agent invocation: the
// caller (the turn orchestrator) has already resolved the system prompt and
// trimmed history to the scope's retention window.
type TurnInput struct {
	SystemPrompt string
	History      []providers.Message
	UserMessage  string
	ContentParts []media.ContentPart
	Channel      string
	ChatID       string
	Metadata     map[string]string
	SessionKey   string
}

// TurnOutput is what the caller needs to reply on the originating channel
// and persist back into session history.
type TurnOutput struct {
	Reply          string
	UpdatedHistory []providers.Message
	ToolsUsed      []string
	Iterations     int
}

// StreamCallback receives the model's in-progress text as it streams, when
// the configured provider supports streaming. Callers that don't care about
// incremental output pass nil.
type StreamCallback func(text string)

// Run drives the tool-call loop for one turn and returns the final reply
// text plus the history the caller should persist (original history with
// the user turn and the assistant's final turn appended; intermediate
// tool-call/tool-result messages are not persisted, matching the scoped
// history the turn orchestrator maintains).
func (a *Agent) Run(ctx context.Context, input TurnInput, onStream StreamCallback) (*TurnOutput, error) {
	messages := make([]providers.Message, 0, len(input.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: input.SystemPrompt})
	messages = append(messages, input.History...)
	messages = append(messages, providers.Message{
		Role:         "user",
		Content:      input.UserMessage,
		ContentParts: input.ContentParts,
	})

	a.applyContext(input)

	defs := a.cfg.Tools.ToProviderDefs()
	var toolsUsed []string
	seen := make(map[string]bool)

	var finalContent string
	iterations := 0
	for ; iterations < a.cfg.MaxToolIterations; iterations++ {
		resp, err := a.chat(ctx, messages, defs, onStream)
		if err != nil {
			return nil, fmt.Errorf("agent: chat iteration %d: %w", iterations, err)
		}

		a.recordUsage(input.SessionKey, resp, iterations)

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantMsg := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		messages = append(messages, assistantMsg)

		for _, call := range resp.ToolCalls {
			if !seen[call.Name] {
				seen[call.Name] = true
				toolsUsed = append(toolsUsed, call.Name)
			}
			result := a.cfg.Tools.ExecuteWithContext(ctx, call.Name, call.Arguments, input.Channel, input.ChatID, nil)
			content := result.ForLLM
			if result.IsError && content == "" {
				content = "tool execution failed"
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: call.ID,
			})
		}

		if iterations == a.cfg.MaxToolIterations-1 {
			finalContent = "I've hit my tool-call limit for this turn without reaching a final answer. Please try rephrasing or breaking the request down."
		}
	}

	history := append(append([]providers.Message{}, input.History...),
		providers.Message{Role: "user", Content: input.UserMessage, ContentParts: input.ContentParts},
		providers.Message{Role: "assistant", Content: finalContent},
	)

	return &TurnOutput{
		Reply:          finalContent,
		UpdatedHistory: history,
		ToolsUsed:      toolsUsed,
		Iterations:     iterations + 1,
	}, nil
}

// applyContext pushes channel/chat-id/metadata into every tool that wants it,
// so a tool like the message tool defaults to the originating chat without
// the model needing to name it explicitly on every call.
func (a *Agent) applyContext(input TurnInput) {
	for _, name := range a.cfg.Tools.List() {
		t, ok := a.cfg.Tools.Get(name)
		if !ok {
			continue
		}
		if ct, ok := t.(tools.ContextualTool); ok {
			ct.SetContext(input.Channel, input.ChatID)
		}
		if mt, ok := t.(tools.MetadataAwareTool); ok && input.Metadata != nil {
			mt.SetMetadata(input.Metadata)
		}
	}
}

func (a *Agent) chat(ctx context.Context, messages []providers.Message, defs []providers.ToolDefinition, onStream StreamCallback) (*providers.LLMResponse, error) {
	options := map[string]interface{}{"max_tokens": a.cfg.MaxTokens}

	if onStream != nil {
		if sp, ok := a.cfg.Provider.(providers.StreamingProvider); ok {
			return sp.ChatStream(ctx, messages, defs, a.cfg.Model, options, providers.StreamCallback(onStream))
		}
	}
	return a.cfg.Provider.Chat(ctx, messages, defs, a.cfg.Model, options)
}

func (a *Agent) recordUsage(sessionKey string, resp *providers.LLMResponse, iteration int) {
	if a.cfg.Tracker == nil || resp.Usage == nil {
		return
	}
	a.cfg.Tracker.Record(metrics.TokenEvent{
		SessionKey:   sessionKey,
		Model:        a.cfg.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Iteration:    iteration,
	})
}
