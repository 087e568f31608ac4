// Package config defines the typed configuration surface for the gateway:
// session backend selection, autonomy policy, WeCom gateway tuning, MCP
// server definitions, and the web-fetch tool's network policy. Values are
// loaded from a TOML file and overlaid with environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type SessionBackend string

const (
	SessionBackendNone   SessionBackend = "None"
	SessionBackendMemory SessionBackend = "Memory"
	SessionBackendSqlite SessionBackend = "Sqlite"
)

type SessionStrategy string

const (
	StrategyMain       SessionStrategy = "Main"
	StrategyPerChannel SessionStrategy = "PerChannel"
	StrategyPerSender  SessionStrategy = "PerSender"
)

type AutonomyLevel string

const (
	AutonomyReadOnly   AutonomyLevel = "ReadOnly"
	AutonomySupervised AutonomyLevel = "Supervised"
	AutonomyFull       AutonomyLevel = "Full"
)

type NaturalLanguageApprovalMode string

const (
	ApprovalModeDirect         NaturalLanguageApprovalMode = "Direct"
	ApprovalModeRequestConfirm NaturalLanguageApprovalMode = "RequestConfirm"
	ApprovalModeDisabled       NaturalLanguageApprovalMode = "Disabled"
)

type SessionConfig struct {
	Backend     SessionBackend  `toml:"backend" env:"SESSION_BACKEND"`
	TTLSeconds  int64           `toml:"ttl_seconds" env:"SESSION_TTL_SECONDS"`
	MaxMessages int             `toml:"max_messages" env:"SESSION_MAX_MESSAGES"`
	Strategy    SessionStrategy `toml:"strategy" env:"SESSION_STRATEGY"`
	SqlitePath  string          `toml:"sqlite_path" env:"SESSION_SQLITE_PATH"`
}

type AutonomyConfig struct {
	Level                                      AutonomyLevel                          `toml:"level" env:"AUTONOMY_LEVEL"`
	AutoApprove                                []string                               `toml:"auto_approve"`
	AlwaysAsk                                  []string                               `toml:"always_ask"`
	MaxActionsPerHour                          int                                    `toml:"max_actions_per_hour" env:"AUTONOMY_MAX_ACTIONS_PER_HOUR"`
	NonCLIApprovalApprovers                    []string                               `toml:"non_cli_approval_approvers"`
	NonCLINaturalLanguageApprovalMode          NaturalLanguageApprovalMode            `toml:"non_cli_natural_language_approval_mode"`
	NonCLINaturalLanguageApprovalModeByChannel map[string]NaturalLanguageApprovalMode `toml:"non_cli_natural_language_approval_mode_by_channel"`
}

type WeComConfig struct {
	Token                     string   `toml:"token" env:"WECOM_TOKEN"`
	EncodingAESKey            string   `toml:"encoding_aes_key" env:"WECOM_ENCODING_AES_KEY"`
	GroupSharedHistoryEnabled bool     `toml:"group_shared_history_enabled"`
	GroupSharedHistoryChatIDs []string `toml:"group_shared_history_chat_ids"`
	FileRetentionDays         int      `toml:"file_retention_days"`
	MaxFileSizeMB             int      `toml:"max_file_size_mb"`
	ResponseURLCachePerScope  int      `toml:"response_url_cache_per_scope"`
	LockTimeoutSecs           int      `toml:"lock_timeout_secs"`
	HistoryMaxTurns           int      `toml:"history_max_turns"`
	FallbackRobotWebhookURL   string   `toml:"fallback_robot_webhook_url"`
	WorkspaceDir              string   `toml:"workspace_dir" env:"WECOM_WORKSPACE_DIR"`
}

// Normalize applies the spec-mandated defaults/clamps to a loaded WeComConfig.
func (c *WeComConfig) Normalize() {
	if c.ResponseURLCachePerScope < 1 {
		c.ResponseURLCachePerScope = 1
	}
	if c.LockTimeoutSecs < 30 {
		c.LockTimeoutSecs = 30
	}
	if c.HistoryMaxTurns < 2 {
		c.HistoryMaxTurns = 2
	}
	if c.FileRetentionDays <= 0 {
		c.FileRetentionDays = 3
	}
	if c.MaxFileSizeMB <= 0 {
		c.MaxFileSizeMB = 10
	}
}

type MCPTransport string

const (
	MCPTransportStdio MCPTransport = "Stdio"
	MCPTransportHTTP  MCPTransport = "Http"
	MCPTransportSSE   MCPTransport = "Sse"
)

type MCPServerConfig struct {
	Name            string            `toml:"name"`
	Enabled         bool              `toml:"enabled"`
	Transport       MCPTransport      `toml:"transport"`
	Command         string            `toml:"command"`
	Args            []string          `toml:"args"`
	Env             map[string]string `toml:"env"`
	URL             string            `toml:"url"`
	Headers         map[string]string `toml:"headers"`
	ToolTimeoutSecs int               `toml:"tool_timeout_secs"`
}

type UrlAccessConfig struct {
	AllowPrivateNetworks bool `toml:"allow_private_networks"`
	AllowLoopback        bool `toml:"allow_loopback"`
}

type WebFetchConfig struct {
	Provider        string          `toml:"provider"`
	APIKey          string          `toml:"api_key"`
	APIURL          string          `toml:"api_url"`
	AllowedDomains  []string        `toml:"allowed_domains"`
	BlockedDomains  []string        `toml:"blocked_domains"`
	URLAccess       UrlAccessConfig `toml:"url_access"`
	MaxResponseSize int             `toml:"max_response_size"`
	TimeoutSecs     int             `toml:"timeout_secs"`
	UserAgent       string          `toml:"user_agent"`
}

// BraveSearchConfig holds Brave web search settings. No tool in this module
// reads them.
type BraveSearchConfig struct {
	APIKey     string `toml:"api_key"`
	MaxResults int    `toml:"max_results"`
	Enabled    bool   `toml:"enabled"`
}

// DuckDuckGoConfig holds DuckDuckGo search settings. No tool in this module
// reads them.
type DuckDuckGoConfig struct {
	MaxResults int  `toml:"max_results"`
	Enabled    bool `toml:"enabled"`
}

// WebToolsConfig groups the two web-search backend settings; cmd/gateway
// registers no web-search tool.
type WebToolsConfig struct {
	Brave      BraveSearchConfig `toml:"brave"`
	DuckDuckGo DuckDuckGoConfig  `toml:"duckduckgo"`
}

// MemoryToolConfig configures the optional semantic memory layer. Only
// EmbeddingModel is read (by cmd/gateway's vector-store wiring);
// SemanticSearch and KnowledgeExtract are not consulted anywhere.
type MemoryToolConfig struct {
	SemanticSearch   bool   `toml:"semantic_search"`
	KnowledgeExtract bool   `toml:"knowledge_extract"`
	EmbeddingModel   string `toml:"embedding_model"`
}

// ToolsConfig groups the per-tool settings for tools beyond the always-on
// message/think/web-fetch set.
type ToolsConfig struct {
	Web    WebToolsConfig   `toml:"web"`
	Memory MemoryToolConfig `toml:"memory"`
}

// AgentDefaults configures the LLM-facing defaults the turn orchestrator uses
// when invoking the adapted agent loop.
type AgentDefaults struct {
	Model               string `toml:"model"`
	MaxTokens           int    `toml:"max_tokens"`
	MaxToolIterations   int    `toml:"max_tool_iterations"`
	RestrictToWorkspace bool   `toml:"restrict_to_workspace"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `toml:"defaults"`
}

// ProviderConfig holds a single LLM provider's credentials, reused for both
// chat completion and (where supported) embeddings.
type ProviderConfig struct {
	APIKey  string `toml:"api_key" env:"-"`
	APIBase string `toml:"api_base"`
}

// ProvidersConfig groups every LLM/embedding provider the gateway may use:
// Anthropic as the primary chat model, OpenAI (or an OpenAI-compatible
// OpenRouter endpoint) as the fallback and as the embeddings backend for
// the memory vector store.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `toml:"anthropic"`
	OpenAI     ProviderConfig `toml:"openai"`
	OpenRouter ProviderConfig `toml:"openrouter"`
}

// SlackConfig configures the polling Slack channel adapter.
type SlackConfig struct {
	Enabled              bool     `toml:"enabled"`
	BotToken             string   `toml:"bot_token" env:"SLACK_BOT_TOKEN"`
	ChannelID            string   `toml:"channel_id"`
	AllowedUsers         []string `toml:"allowed_users"`
	MentionOnly          bool     `toml:"mention_only"`
	GroupReplyAllowedIDs []string `toml:"group_reply_allowed_sender_ids"`
}

// GitHubConfig configures the webhook-driven GitHub channel adapter.
type GitHubConfig struct {
	Enabled       bool     `toml:"enabled"`
	AccessToken   string   `toml:"access_token" env:"GITHUB_ACCESS_TOKEN"`
	WebhookSecret string   `toml:"webhook_secret" env:"GITHUB_WEBHOOK_SECRET"`
	APIBaseURL    string   `toml:"api_base_url"`
	AllowedRepos  []string `toml:"allowed_repos"`
}

// ChannelsConfig groups the non-WeCom channel adapters.
type ChannelsConfig struct {
	Slack  SlackConfig  `toml:"slack"`
	GitHub GitHubConfig `toml:"github"`
}

type Config struct {
	Session    SessionConfig     `toml:"session"`
	Autonomy   AutonomyConfig    `toml:"autonomy"`
	WeCom      WeComConfig       `toml:"wecom"`
	Channels   ChannelsConfig    `toml:"channels"`
	MCPServers []MCPServerConfig `toml:"mcp_server"`
	WebFetch   WebFetchConfig    `toml:"web_fetch"`
	Tools      ToolsConfig       `toml:"tools"`
	Agents     AgentsConfig      `toml:"agents"`
	Providers  ProvidersConfig   `toml:"providers"`
	Roles      []RoleConfigTOML  `toml:"role"`
}

// RoleConfigTOML is the TOML-decodable shape of one custom role definition,
// translated into roles.RoleConfig by cmd/ before building the registry.
type RoleConfigTOML struct {
	Name         string   `toml:"name"`
	AllowedTools []string `toml:"allowed_tools"`
	DeniedTools  []string `toml:"denied_tools"`
	TOTPGated    []string `toml:"totp_gated"`
	Inherits     string   `toml:"inherits"`
}

// WorkspacePath returns the directory used for session storage and
// vector-store persistence.
func (c *Config) WorkspacePath() string {
	if c.WeCom.WorkspaceDir != "" {
		return c.WeCom.WorkspaceDir
	}
	return "./workspace"
}

// Load reads a TOML config file at path (if it exists) then overlays
// environment variables tagged on the struct fields above.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("config: decoding %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}
	cfg.WeCom.Normalize()
	return cfg, nil
}
