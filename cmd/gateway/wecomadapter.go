package main

import (
	"context"
	"sync"

	"github.com/zeroclaw-labs/zeroclaw/pkg/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/providers"
)

// wecomAgentAdapter satisfies wecom.Agent: the orchestrator hands it one
// fully composed prompt string (system context plus scoped history baked
// in by ComposeInput) and expects a plain reply back. Conversation history
// for the WeCom channel lives entirely in wecom.ConversationStore, so this
// adapter runs the underlying agent with no separate History of its own.
type wecomAgentAdapter struct {
	agent        *agent.Agent
	systemPrompt string
}

func newWeComAgentAdapter(a *agent.Agent, systemPrompt string) *wecomAgentAdapter {
	return &wecomAgentAdapter{agent: a, systemPrompt: systemPrompt}
}

func (w *wecomAgentAdapter) Run(ctx context.Context, composedInput string) (string, error) {
	out, err := w.agent.Run(ctx, agent.TurnInput{
		SystemPrompt: w.systemPrompt,
		UserMessage:  composedInput,
		Channel:      "wecom",
	}, nil)
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

// memoryPushURLStore is a minimal in-process PushURLStore: per-scope
// proactive-push webhook URLs learned once (e.g. from an admin command)
// persist only for the lifetime of the process. A durable deployment would
// back this with the same sqlite/session storage the conversation history
// uses; no component in SPEC_FULL.md exercises that path today, so keeping
// it in memory avoids inventing unused storage plumbing.
type memoryPushURLStore struct {
	mu   sync.RWMutex
	urls map[string]string
}

func newMemoryPushURLStore() *memoryPushURLStore {
	return &memoryPushURLStore{urls: make(map[string]string)}
}

func (s *memoryPushURLStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.urls[key]
	return url, ok, nil
}

func (s *memoryPushURLStore) Set(key, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[key] = url
}

// simpleChannelAgent drives one turn for the Slack polling loop and the
// GitHub webhook handler:
// unlike the WeCom orchestrator, these channels have no scoped
// ConversationStore of their own, so history comes from pkg/session.Store
// keyed by the channel-derived session id.
type simpleChannelAgent struct {
	agent        *agent.Agent
	systemPrompt string
}

func newSimpleChannelAgent(a *agent.Agent, systemPrompt string) *simpleChannelAgent {
	return &simpleChannelAgent{agent: a, systemPrompt: systemPrompt}
}

func (s *simpleChannelAgent) run(ctx context.Context, channel, chatID, sessionKey string, history []providers.Message, userMessage string) (*agent.TurnOutput, error) {
	return s.agent.Run(ctx, agent.TurnInput{
		SystemPrompt: s.systemPrompt,
		History:      history,
		UserMessage:  userMessage,
		Channel:      channel,
		ChatID:       chatID,
		SessionKey:   sessionKey,
	}, nil)
}
