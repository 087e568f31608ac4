package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/approval"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/github"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/slack"
	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/leak"
	"github.com/zeroclaw-labs/zeroclaw/pkg/mcp"
	"github.com/zeroclaw-labs/zeroclaw/pkg/memory"
	"github.com/zeroclaw-labs/zeroclaw/pkg/metrics"
	"github.com/zeroclaw-labs/zeroclaw/pkg/providers"
	"github.com/zeroclaw-labs/zeroclaw/pkg/roles"
	"github.com/zeroclaw-labs/zeroclaw/pkg/session"
	"github.com/zeroclaw-labs/zeroclaw/pkg/tools"
)

const genericSystemPrompt = "You are a helpful assistant operating across chat channels. " +
	"Use the available tools when they help answer the request, and keep replies concise."

// outboundLeakDetector scans every reply the Slack/GitHub loops send before
// it crosses the channel boundary; the WeCom orchestrator runs its own
// instance internally (see pkg/wecom/turn.go) since its replies never pass
// through this package.
var outboundLeakDetector = leak.New()

// scanOutboundTurn redacts any detected credential from a turn's reply
// before it is sent, and keeps the trailing assistant entry in the turn's
// updated history in sync so a leaked secret never survives into the next
// turn's context either.
func scanOutboundTurn(out *agent.TurnOutput) {
	result := outboundLeakDetector.Scan(out.Reply)
	if !result.Detected {
		return
	}
	out.Reply = result.Redacted
	if n := len(out.UpdatedHistory); n > 0 && out.UpdatedHistory[n-1].Role == "assistant" {
		out.UpdatedHistory[n-1].Content = result.Redacted
	}
}

// buildProvider assembles the Anthropic-primary / OpenAI-fallback chat
// provider the agent loop drives. Anthropic always uses the configured
// static API key; stored pkg/auth credentials are not consulted here.
func buildProvider(cfg *config.Config) providers.LLMProvider {
	var primary providers.LLMProvider = providers.NewClaudeProvider(cfg.Providers.Anthropic.APIKey)

	openAICfg := cfg.Providers.OpenAI
	if openAICfg.APIKey == "" && cfg.Providers.OpenRouter.APIKey != "" {
		openAICfg = cfg.Providers.OpenRouter
	}
	fallback := providers.NewOpenAIProviderWithBaseURL(openAICfg.APIKey, openAICfg.APIBase, "")

	return providers.NewFallbackProvider(primary, fallback, "claude-sonnet-4-5", fallback.GetDefaultModel())
}

// buildSessionStore selects the configured history backend.
func buildSessionStore(cfg *config.Config) (session.Store, error) {
	ttl := time.Duration(cfg.Session.TTLSeconds) * time.Second
	switch cfg.Session.Backend {
	case config.SessionBackendMemory:
		return session.NewMemoryStore(ttl, cfg.Session.MaxMessages), nil
	case config.SessionBackendSqlite:
		dbPath := cfg.Session.SqlitePath
		if dbPath == "" {
			dbPath = session.DefaultDBPath(cfg.WorkspacePath())
		}
		return session.NewSqliteStore(dbPath, ttl, cfg.Session.MaxMessages)
	default:
		return session.NoneStore{}, nil
	}
}

// buildVectorStore wires the memory layer's embeddings to whichever OpenAI-
// compatible credential is configured; nil when neither is set, which
// disables the memory_search/memory_observe tools at registration time.
func buildVectorStore(cfg *config.Config) (*memory.VectorStore, error) {
	embedCfg := cfg.Providers.OpenAI
	if embedCfg.APIKey == "" {
		embedCfg = cfg.Providers.OpenRouter
	}
	if embedCfg.APIKey == "" {
		return nil, nil
	}
	embedFn := providers.OpenAIEmbeddingFunc(embedCfg.APIKey, embedCfg.APIBase, cfg.Tools.Memory.EmbeddingModel)
	return memory.NewVectorStore(cfg.WorkspacePath(), embedFn)
}

// buildRoleRegistry translates the TOML role definitions into pkg/roles'
// native RoleConfig shape and layers them over the five built-in roles.
func buildRoleRegistry(cfg *config.Config) (*roles.Registry, error) {
	if len(cfg.Roles) == 0 {
		return roles.BuiltIn(), nil
	}
	custom := make([]roles.RoleConfig, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		custom = append(custom, roles.RoleConfig{
			Name:         r.Name,
			AllowedTools: r.AllowedTools,
			DeniedTools:  r.DeniedTools,
			TOTPGated:    r.TOTPGated,
			Inherits:     r.Inherits,
		})
	}
	return roles.FromConfig(custom)
}

// buildToolRegistry assembles every tool the agent loop may call: the
// always-on message/think/web-fetch tools, the memory tools when a vector
// store is configured, and any MCP-bridged tools from configured servers.
// Every registered tool is wrapped so each call is policy-checked by the
// approval manager before it runs. sendCallback wires
// the message tool's mid-turn sends to whichever channel adapters are
// enabled; nil disables the tool's send path (it still registers, but
// Execute reports sending as unconfigured).
func buildToolRegistry(cfg *config.Config, vectorStore *memory.VectorStore, mgr *approval.Manager, sendCallback tools.SendCallback) (*tools.ToolRegistry, *mcp.MCPManager) {
	registry := tools.NewToolRegistry()

	messageTool := tools.NewMessageTool()
	if sendCallback != nil {
		messageTool.SetSendCallback(sendCallback)
	}
	registry.Register(gate(messageTool, mgr))
	registry.Register(gate(tools.NewThinkTool(), mgr))

	wf := cfg.WebFetch
	timeout := time.Duration(wf.TimeoutSecs) * time.Second
	registry.Register(gate(tools.NewWebFetchTool(wf.AllowedDomains, wf.BlockedDomains, wf.MaxResponseSize, timeout, wf.UserAgent), mgr))

	if vectorStore != nil {
		registry.Register(gate(tools.NewMemorySearchTool(vectorStore), mgr))
		registry.Register(gate(tools.NewMemoryObserveTool(vectorStore), mgr))
	}

	mcpManager := mcp.NewMCPManager()
	mcpManager.StartFromConfig(cfg.MCPServers)
	discovered := mcpManager.DiscoverMCPTools()
	for _, entry := range discovered {
		bridge := mcp.NewMCPBridgeTool(mcpManager, entry.Server, entry.Tool)
		registry.Register(gate(bridge, mgr))
	}

	return registry, mcpManager
}

func gate(t tools.Tool, mgr *approval.Manager) tools.Tool {
	return tools.NewApprovalGatedTool(t, mgr)
}

// buildSendCallback routes the message tool's mid-turn sends to whichever
// channel adapter the model names. WeCom is deliberately excluded: its
// Dispatcher keys sends on a composed "group:<chatID>[:user:<senderID>]"
// scope string that a bare chatID can't reconstruct, and the WeCom turn
// orchestrator already owns dispatching the final reply and overflow tail
// directly (see pkg/wecom/turn.go), so nothing is lost by leaving it out.
func buildSendCallback(slackChannel *slack.Channel, githubChannel *github.Channel) tools.SendCallback {
	if slackChannel == nil && githubChannel == nil {
		return nil
	}
	return func(channel, chatID, content string, metadata map[string]string) error {
		switch channel {
		case "slack":
			if slackChannel == nil {
				return fmt.Errorf("gateway: slack channel not configured")
			}
			threadTS := ""
			if metadata != nil {
				threadTS = metadata["thread_id"]
			}
			return slackChannel.Send(context.Background(), chatID, threadTS, content)
		case "github":
			if githubChannel == nil {
				return fmt.Errorf("gateway: github channel not configured")
			}
			return githubChannel.Send(chatID, content)
		default:
			return fmt.Errorf("gateway: message tool has no send route for channel %q", channel)
		}
	}
}

// buildAgent wires the chat provider, tool registry, and token-usage
// tracker into one Agent shared across every channel.
func buildAgent(cfg *config.Config, provider providers.LLMProvider, registry *tools.ToolRegistry) *agent.Agent {
	return agent.New(agent.Config{
		Provider:          provider,
		Tools:             registry,
		Model:             cfg.Agents.Defaults.Model,
		MaxTokens:         cfg.Agents.Defaults.MaxTokens,
		MaxToolIterations: cfg.Agents.Defaults.MaxToolIterations,
		Tracker:           metrics.NewTracker(cfg.WorkspacePath()),
	})
}

func validateChannels(cfg *config.Config) error {
	if cfg.WeCom.Token == "" && !cfg.Channels.Slack.Enabled && !cfg.Channels.GitHub.Enabled {
		return fmt.Errorf("gateway: no channel configured (wecom token, slack, or github all absent)")
	}
	return nil
}
