package main

import (
	"context"

	"github.com/zeroclaw-labs/zeroclaw/pkg/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/slack"
	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
	"github.com/zeroclaw-labs/zeroclaw/pkg/providers"
	"github.com/zeroclaw-labs/zeroclaw/pkg/session"
)

// buildSlackChannel constructs the Slack channel adapter from config,
// without starting its polling loop — callers that also want its Send
// method wired into the message tool build it before the tool registry.
func buildSlackChannel(cfg *config.Config) *slack.Channel {
	sc := cfg.Channels.Slack
	return slack.New(sc.BotToken, sc.ChannelID, sc.AllowedUsers).
		WithGroupReplyPolicy(sc.MentionOnly, sc.GroupReplyAllowedIDs)
}

// startSlackLoop spawns the background goroutine driving Listen on an
// already-built channel; each received message runs one agent turn scoped
// to a PerChannel-strategy session, then is replied to on the same thread.
func startSlackLoop(ctx context.Context, channel *slack.Channel, coreAgent *agent.Agent, store session.Store) {
	runner := newSimpleChannelAgent(coreAgent, genericSystemPrompt)

	msgChan := make(chan slack.Message, 32)
	go func() {
		if err := channel.Listen(ctx, msgChan); err != nil && ctx.Err() == nil {
			logger.ErrorCF("slack", "listen loop exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					return
				}
				handleSlackMessage(ctx, channel, runner, store, msg)
			}
		}
	}()
}

func handleSlackMessage(ctx context.Context, channel *slack.Channel, runner *simpleChannelAgent, store session.Store, msg slack.Message) {
	sessionID := session.ResolveSessionID(session.StrategyPerChannel, msg.Sender, "slack:"+msg.Channel)

	history, err := store.GetHistory(ctx, sessionID)
	if err != nil {
		logger.WarnCF("slack", "history load failed", map[string]interface{}{"error": err.Error()})
	}

	out, err := runner.run(ctx, "slack", msg.Channel, sessionID, toProviderMessages(history), msg.Content)
	if err != nil {
		logger.ErrorCF("slack", "turn failed", map[string]interface{}{"error": err.Error()})
		_ = channel.Send(ctx, msg.Channel, msg.ThreadTS, "Sorry, I ran into an error handling that.")
		return
	}
	scanOutboundTurn(out)

	if err := store.SetHistory(ctx, sessionID, fromProviderMessages(out.UpdatedHistory)); err != nil {
		logger.WarnCF("slack", "history save failed", map[string]interface{}{"error": err.Error()})
	}

	if err := channel.Send(ctx, msg.Channel, msg.ThreadTS, out.Reply); err != nil {
		logger.ErrorCF("slack", "send failed", map[string]interface{}{"error": err.Error()})
	}
}

func toProviderMessages(history []session.ChatMessage) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	for _, m := range history {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func fromProviderMessages(history []providers.Message) []session.ChatMessage {
	out := make([]session.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, session.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
