// Command gateway runs the multi-channel agent gateway: it answers WeCom's
// encrypted callback protocol, polls Slack for mentions, and accepts GitHub
// webhook deliveries, routing every inbound message through one shared
// tool-calling agent and replying on the channel it arrived from.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/agent"
	"github.com/zeroclaw-labs/zeroclaw/pkg/approval"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/github"
	"github.com/zeroclaw-labs/zeroclaw/pkg/channels/slack"
	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
	"github.com/zeroclaw-labs/zeroclaw/pkg/wecom"
)

func main() {
	var configPath string
	var listenAddr string
	flag.StringVar(&configPath, "config", "gateway.toml", "path to the gateway TOML config file")
	flag.StringVar(&listenAddr, "listen", ":8080", "HTTP listen address for webhook/callback routes")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := validateChannels(cfg); err != nil {
		slog.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway starting")

	provider := buildProvider(cfg)

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		slog.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer sessionStore.Close()

	vectorStore, err := buildVectorStore(cfg)
	if err != nil {
		slog.Error("failed to initialize memory vector store", "error", err)
		os.Exit(1)
	}

	roleRegistry, err := buildRoleRegistry(cfg)
	if err != nil {
		slog.Error("failed to build role registry", "error", err)
		os.Exit(1)
	}
	logger.InfoCF("gateway", "role registry ready", map[string]interface{}{"custom_roles": len(cfg.Roles)})
	// None of the three channel adapters carry a per-sender role claim today
	// (WeCom/Slack/GitHub identify a sender but not a role), so roleRegistry
	// isn't consulted per tool call yet; approvalMgr's tool-name-keyed policy
	// is what actually gates calls in this build. See DESIGN.md.
	_ = roleRegistry

	approvalMgr := approval.New(cfg.Autonomy)

	var slackChannel *slack.Channel
	if cfg.Channels.Slack.Enabled {
		slackChannel = buildSlackChannel(cfg)
	}
	var githubChannel *github.Channel
	if cfg.Channels.GitHub.Enabled {
		githubChannel = buildGitHubChannel(cfg)
	}
	sendCallback := buildSendCallback(slackChannel, githubChannel)

	toolRegistry, mcpManager := buildToolRegistry(cfg, vectorStore, approvalMgr, sendCallback)
	defer mcpManager.StopAll()

	coreAgent := buildAgent(cfg, provider, toolRegistry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()

	if cfg.WeCom.Token != "" {
		runtime, err := buildWeComRuntime(cfg, coreAgent)
		if err != nil {
			slog.Error("failed to build wecom runtime", "error", err)
			os.Exit(1)
		}
		registerWeComRoutes(mux, runtime)
		runtime.StartSweeper(ctx, time.Minute)
		logger.Info("wecom channel enabled")
	}

	if slackChannel != nil {
		startSlackLoop(ctx, slackChannel, coreAgent, sessionStore)
		logger.Info("slack channel enabled")
	}

	if githubChannel != nil {
		registerGitHubRoutes(mux, cfg, githubChannel, coreAgent, sessionStore)
		logger.Info("github channel enabled")
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.InfoCF("gateway", "listening", map[string]interface{}{"addr": listenAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

// buildWeComRuntime adapts the shared agent into wecom.Agent and constructs
// the Runtime from the loaded config.
func buildWeComRuntime(cfg *config.Config, coreAgent *agent.Agent) (*wecom.Runtime, error) {
	adapter := newWeComAgentAdapter(coreAgent, genericSystemPrompt)
	pushURLs := newMemoryPushURLStore()

	runtimeCfg := wecom.RuntimeConfig{
		Token:                     cfg.WeCom.Token,
		EncodingAESKey:            cfg.WeCom.EncodingAESKey,
		GroupSharedHistoryEnabled: cfg.WeCom.GroupSharedHistoryEnabled,
		GroupSharedHistoryChatIDs: cfg.WeCom.GroupSharedHistoryChatIDs,
		FileRetentionDays:         cfg.WeCom.FileRetentionDays,
		MaxFileSizeBytes:          int64(cfg.WeCom.MaxFileSizeMB) * 1024 * 1024,
		ResponseURLCachePerScope:  cfg.WeCom.ResponseURLCachePerScope,
		LockTimeoutSecs:           cfg.WeCom.LockTimeoutSecs,
		HistoryMaxTurns:           cfg.WeCom.HistoryMaxTurns,
		FallbackRobotWebhookURL:   cfg.WeCom.FallbackRobotWebhookURL,
		WorkspaceDir:              cfg.WorkspacePath(),
	}
	return wecom.NewRuntime(runtimeCfg, adapter, pushURLs)
}

// registerWeComRoutes wires the verify/callback HTTP surface onto mux. There
// is no separate poll route: WeCom re-delivers a "stream" msgtype callback to
// the same encrypted endpoint for a refresh, and HandleCallback answers it
// with the current snapshot, encrypted, like any other inbound message.
func registerWeComRoutes(mux *http.ServeMux, runtime *wecom.Runtime) {
	mux.HandleFunc("/wecom/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.Method {
		case http.MethodGet:
			runtime.HandleVerify(w, wecom.VerifyQuery{
				MsgSignature: q.Get("msg_signature"),
				Timestamp:    q.Get("timestamp"),
				Nonce:        q.Get("nonce"),
				EchoStr:      q.Get("echostr"),
			})
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				http.Error(w, `{"error":"body read failed"}`, http.StatusBadRequest)
				return
			}
			resp := runtime.HandleCallback(r.Context(), wecom.CallbackQuery{
				MsgSignature: q.Get("msg_signature"),
				Timestamp:    q.Get("timestamp"),
				Nonce:        q.Get("nonce"),
			}, body)
			w.WriteHeader(resp.Status)
			_, _ = w.Write([]byte(resp.Body))
		default:
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		}
	})
}
