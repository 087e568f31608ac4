package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zeroclaw-labs/zeroclaw/pkg/config"
)

// transport is the wire-level contract an MCP server connection implements,
// independent of whether it's backed by a subprocess, a plain HTTP endpoint,
// or a server-sent-events stream. send performs one JSON-RPC request/response
// round trip; notify fires a request with no expected reply.
type transport interface {
	send(req jsonRPCRequest) (*jsonRPCResponse, error)
	notify(req jsonRPCRequest) error
	close()
}

// newTransport builds the transport named by cfg.Transport. Stdio is the
// default when Transport is left unset, matching servers that only name a
// command.
func newTransport(cfg config.MCPServerConfig) (transport, error) {
	switch cfg.Transport {
	case config.MCPTransportHTTP:
		return newHTTPTransport(cfg), nil
	case config.MCPTransportSSE:
		return newSSETransport(cfg), nil
	case config.MCPTransportStdio, "":
		return newStdioTransport(cfg)
	default:
		return nil, fmt.Errorf("unknown mcp transport %q", cfg.Transport)
	}
}

// -- stdio --

type stdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
}

func newStdioTransport(cfg config.MCPServerConfig) (*stdioTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &stdioTransport{cmd: cmd, stdin: stdin, stdout: scanner}, nil
}

func (t *stdioTransport) send(req jsonRPCRequest) (*jsonRPCResponse, error) {
	if err := t.notify(req); err != nil {
		return nil, err
	}
	if !t.stdout.Scan() {
		if err := t.stdout.Err(); err != nil {
			return nil, fmt.Errorf("read from MCP server: %w", err)
		}
		return nil, fmt.Errorf("MCP server closed connection")
	}
	var resp jsonRPCResponse
	if err := json.Unmarshal(t.stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse MCP response: %w", err)
	}
	return &resp, nil
}

func (t *stdioTransport) notify(req jsonRPCRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to MCP server: %w", err)
	}
	return nil
}

func (t *stdioTransport) close() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
}

// -- http: one POST per request, plain JSON response --

type httpTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func newHTTPTransport(cfg config.MCPServerConfig) *httpTransport {
	return &httpTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *httpTransport) do(req jsonRPCRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	return t.client.Do(httpReq)
}

func (t *httpTransport) send(req jsonRPCRequest) (*jsonRPCResponse, error) {
	resp, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp http read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcp http status %d: %s", resp.StatusCode, string(data))
	}
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return parseSSEResponse(data)
	}
	var out jsonRPCResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse MCP response: %w", err)
	}
	return &out, nil
}

func (t *httpTransport) notify(req jsonRPCRequest) error {
	resp, err := t.do(req)
	if err != nil {
		return fmt.Errorf("mcp http notify: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (t *httpTransport) close() {}

// -- sse: request/response carried over a streamed POST response --

type sseTransport struct {
	httpTransport
}

func newSSETransport(cfg config.MCPServerConfig) *sseTransport {
	return &sseTransport{httpTransport: *newHTTPTransport(cfg)}
}

func (t *sseTransport) send(req jsonRPCRequest) (*jsonRPCResponse, error) {
	resp, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp sse request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcp sse read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcp sse status %d: %s", resp.StatusCode, string(data))
	}
	return parseSSEResponse(data)
}

// parseSSEResponse extracts the first JSON-RPC payload carried by an
// event-stream body, where each event is framed as "data: <json>\n\n".
func parseSSEResponse(body []byte) (*jsonRPCResponse, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var resp jsonRPCResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			continue
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("no data event found in SSE body")
}
