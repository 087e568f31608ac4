package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/zeroclaw-labs/zeroclaw/pkg/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/github"
	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
	"github.com/zeroclaw-labs/zeroclaw/pkg/session"
)

// buildGitHubChannel constructs the GitHub channel adapter from config.
func buildGitHubChannel(cfg *config.Config) *github.Channel {
	gc := cfg.Channels.GitHub
	return github.New(gc.AccessToken, gc.APIBaseURL, gc.AllowedRepos)
}

// registerGitHubRoutes wires the webhook delivery endpoint onto an
// already-built channel: it verifies the HMAC signature, parses whatever
// issue-comment/PR-review-comment messages the event contains, and runs one
// agent turn per message, replying as an issue/PR comment on the
// originating repo.
func registerGitHubRoutes(mux *http.ServeMux, cfg *config.Config, channel *github.Channel, coreAgent *agent.Agent, store session.Store) {
	gc := cfg.Channels.GitHub
	runner := newSimpleChannelAgent(coreAgent, genericSystemPrompt)

	mux.HandleFunc("/github/webhook", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, `{"error":"body read failed"}`, http.StatusBadRequest)
			return
		}

		sig := r.Header.Get("X-Hub-Signature-256")
		if !github.VerifySignature(gc.WebhookSecret, body, sig) {
			http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
			return
		}

		eventName := r.Header.Get("X-GitHub-Event")
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
			return
		}

		messages := channel.ParseWebhookPayload(eventName, payload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"accepted"}`))

		for _, msg := range messages {
			go handleGitHubMessage(context.Background(), channel, runner, store, msg)
		}
	})
}

func handleGitHubMessage(ctx context.Context, channel *github.Channel, runner *simpleChannelAgent, store session.Store, msg github.Message) {
	sessionID := session.ResolveSessionID(session.StrategyPerChannel, msg.Sender, "github:"+msg.ReplyTarget)

	history, err := store.GetHistory(ctx, sessionID)
	if err != nil {
		logger.WarnCF("github", "history load failed", map[string]interface{}{"error": err.Error()})
	}

	out, err := runner.run(ctx, "github", msg.ReplyTarget, sessionID, toProviderMessages(history), msg.Content)
	if err != nil {
		logger.ErrorCF("github", "turn failed", map[string]interface{}{"error": err.Error()})
		_ = channel.Send(msg.ReplyTarget, "Sorry, I ran into an error handling that.")
		return
	}
	scanOutboundTurn(out)

	if err := store.SetHistory(ctx, sessionID, fromProviderMessages(out.UpdatedHistory)); err != nil {
		logger.WarnCF("github", "history save failed", map[string]interface{}{"error": err.Error()})
	}

	if err := channel.Send(msg.ReplyTarget, out.Reply); err != nil {
		logger.ErrorCF("github", "send failed", map[string]interface{}{"error": err.Error()})
	}
}
