// Package mcp implements a transport-polymorphic Model Context Protocol
// client: JSON-RPC 2.0 over stdio subprocesses, plain HTTP, or SSE-streamed
// HTTP, behind one initialize/tools-list/tools-call surface.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
	"github.com/zeroclaw-labs/zeroclaw/pkg/logger"
)

const (
	protocolVersion           = "2024-11-05"
	defaultToolTimeoutSecs    = 180
	maxToolTimeoutSecs        = 600
)

// jsonRPCRequest is a JSON-RPC 2.0 request. ID is omitted on notifications.
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDefinition represents a tool exposed by an MCP server.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPServer is a live connection to one MCP server, over whichever transport
// its config named.
type MCPServer struct {
	Name string

	transport   transport
	toolTimeout time.Duration

	mu     sync.Mutex
	nextID atomic.Int64
	tools  []ToolDefinition
}

// MCPManager owns the set of connected MCP servers and the tools they expose.
type MCPManager struct {
	servers map[string]*MCPServer
	mu      sync.RWMutex
}

// NewMCPManager creates an empty MCP manager.
func NewMCPManager() *MCPManager {
	return &MCPManager{servers: make(map[string]*MCPServer)}
}

// StartFromConfig connects every enabled server named in configs, logging
// (not failing) on a server that cannot be reached.
func (m *MCPManager) StartFromConfig(configs []config.MCPServerConfig) {
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := m.Start(cfg); err != nil {
			logger.WarnCF("mcp", "failed to start MCP server", map[string]interface{}{
				"name":  cfg.Name,
				"error": err.Error(),
			})
		}
	}
}

// Start connects to one MCP server and discovers its tools.
func (m *MCPManager) Start(cfg config.MCPServerConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.servers[cfg.Name]; exists {
		return fmt.Errorf("MCP server %q already running", cfg.Name)
	}

	tr, err := newTransport(cfg)
	if err != nil {
		return err
	}

	timeoutSecs := cfg.ToolTimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = defaultToolTimeoutSecs
	}
	if timeoutSecs > maxToolTimeoutSecs {
		timeoutSecs = maxToolTimeoutSecs
	}

	server := &MCPServer{
		Name:        cfg.Name,
		transport:   tr,
		toolTimeout: time.Duration(timeoutSecs) * time.Second,
	}

	if err := server.initialize(); err != nil {
		server.transport.close()
		return fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	tools, err := server.listTools()
	if err != nil {
		server.transport.close()
		return fmt.Errorf("list tools from %s: %w", cfg.Name, err)
	}
	server.tools = tools

	m.servers[cfg.Name] = server

	logger.InfoCF("mcp", "MCP server connected", map[string]interface{}{
		"name":      cfg.Name,
		"transport": string(cfg.Transport),
		"tools":     len(tools),
	})

	return nil
}

// ListTools returns the tools exposed by one connected server.
func (m *MCPManager) ListTools(server string) []ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.servers[server]; ok {
		return s.tools
	}
	return nil
}

// AllTools returns every connected server's tools, keyed by server name.
func (m *MCPManager) AllTools() map[string][]ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string][]ToolDefinition)
	for name, server := range m.servers {
		result[name] = server.tools
	}
	return result
}

// CallTool invokes a tool on a specific connected server, enforcing that
// server's configured tool timeout.
func (m *MCPManager) CallTool(serverName, toolName string, args map[string]interface{}) (string, error) {
	m.mu.RLock()
	server, ok := m.servers[serverName]
	m.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("MCP server %q not found", serverName)
	}
	return server.callTool(toolName, args)
}

// StopAll disconnects every server.
func (m *MCPManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, server := range m.servers {
		server.transport.close()
		logger.InfoCF("mcp", "MCP server disconnected", map[string]interface{}{"name": name})
	}
	m.servers = make(map[string]*MCPServer)
}

// -- MCPServer methods --

func (s *MCPServer) roundTrip(ctx context.Context, req jsonRPCRequest) (*jsonRPCResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type result struct {
		resp *jsonRPCResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.transport.send(req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *MCPServer) initialize() error {
	id := s.nextID.Add(1)
	resp, err := s.transport.send(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "zeroclaw",
				"version": "1.0.0",
			},
		},
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("MCP initialize error: %s", resp.Error.Message)
	}

	return s.transport.notify(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
}

func (s *MCPServer) listTools() ([]ToolDefinition, error) {
	id := s.nextID.Add(1)
	resp, err := s.transport.send(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/list",
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("MCP tools/list error: %s", resp.Error.Message)
	}

	var result struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse tools list: %w", err)
	}
	return result.Tools, nil
}

func (s *MCPServer) callTool(toolName string, args map[string]interface{}) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.toolTimeout)
	defer cancel()

	id := s.nextID.Add(1)
	resp, err := s.roundTrip(ctx, jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      toolName,
			"arguments": args,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("MCP tool call error: %s", resp.Error.Message)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return string(resp.Result), nil
	}

	var texts []string
	for _, c := range result.Content {
		if c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	text := ""
	if len(texts) > 0 {
		text = texts[0]
	} else {
		text = string(resp.Result)
	}
	if result.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// DiscoverMCPTools returns a flat list of all MCP tools with server names,
// used by the bridge to register tools in the agent's tool registry.
func (m *MCPManager) DiscoverMCPTools() []struct {
	Server string
	Tool   ToolDefinition
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []struct {
		Server string
		Tool   ToolDefinition
	}
	for name, server := range m.servers {
		for _, tool := range server.tools {
			all = append(all, struct {
				Server string
				Tool   ToolDefinition
			}{Server: name, Tool: tool})
		}
	}
	return all
}
