// Package mcp opens remote tool servers over SSE and exposes their tools to
// the agent engine.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
	"github.com/comfyflow/agentmode/pkg/logger"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

const (
	ErrCodeConnection = "MCP_CONNECTION_FAILED"
	ErrCodeListTools  = "MCP_LIST_TOOLS_FAILED"
	ErrCodeToolCall   = "MCP_TOOL_CALL_FAILED"

	clientName    = "agentmode"
	clientVersion = "1.0.0"
)

// Source is a connected remote tool server.
type Source struct {
	cfg       ServerConfig
	client    *client.Client
	cache     *ToolCache
	closeOnce sync.Once
	closeErr  error
}

// Connect starts the SSE stream and performs the protocol handshake. The
// stream stays open until Close or until ctx is cancelled.
func Connect(ctx context.Context, cfg ServerConfig, cache *ToolCache) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.NewError(err, ErrCodeConnection, nil)
	}
	cfg = cfg.withDefaults()
	log := logger.FromContext(ctx).With("mcp_server", cfg.Name)
	c, err := client.NewSSEMCPClient(
		cfg.URL,
		transport.WithHeaders(cfg.Headers),
		transport.WithHTTPClient(newHTTPClient(cfg.Timeout)),
	)
	if err != nil {
		return nil, connectionError(cfg, err)
	}
	s := &Source{cfg: cfg, client: c, cache: cache}
	if err := c.Start(ctx); err != nil {
		_ = s.Close()
		return nil, connectionError(cfg, err)
	}
	initCtx, cancel := context.WithTimeout(ctx, cfg.SessionTimeout)
	defer cancel()
	req := mcpproto.InitializeRequest{}
	req.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcpproto.Implementation{Name: clientName, Version: clientVersion}
	res, err := c.Initialize(initCtx, req)
	if err != nil {
		_ = s.Close()
		return nil, connectionError(cfg, err)
	}
	log.Debug("Connected to MCP server", "server_name", res.ServerInfo.Name, "protocol", res.ProtocolVersion)
	return s, nil
}

// newHTTPClient bounds the wait for response headers only. The SSE stream is
// a single response body that stays open for the whole session.
func newHTTPClient(responseTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = responseTimeout
	return &http.Client{Transport: tr}
}

func connectionError(cfg ServerConfig, err error) error {
	return core.NewError(
		fmt.Errorf("connect to mcp server %s: %w", cfg.Name, err),
		ErrCodeConnection,
		map[string]any{"server": cfg.Name},
	)
}

func (s *Source) Name() string {
	return s.cfg.Name
}

// ListTools returns the server's tools bound to this connection.
func (s *Source) ListTools(ctx context.Context) ([]llmadapter.Tool, error) {
	defs, ok := s.cache.get(s.cfg.URL)
	if !ok {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
		res, err := s.client.ListTools(callCtx, mcpproto.ListToolsRequest{})
		if err != nil {
			return nil, core.NewError(
				fmt.Errorf("list tools of %s: %w", s.cfg.Name, err),
				ErrCodeListTools,
				map[string]any{"server": s.cfg.Name},
			)
		}
		defs = res.Tools
		s.cache.add(s.cfg.URL, defs)
	}
	tools := make([]llmadapter.Tool, 0, len(defs))
	for i := range defs {
		tools = append(tools, newRemoteTool(s, defs[i]))
	}
	logger.FromContext(ctx).Debug("Listed MCP tools", "mcp_server", s.cfg.Name, "count", len(tools), "cached", ok)
	return tools, nil
}

func (s *Source) call(ctx context.Context, name string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SessionTimeout)
	defer cancel()
	res, err := s.client.CallTool(callCtx, mcpproto.CallToolRequest{
		Params: mcpproto.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		return "", core.NewError(
			fmt.Errorf("call %s on %s: %w", name, s.cfg.Name, err),
			ErrCodeToolCall,
			map[string]any{"server": s.cfg.Name, "tool": name},
		)
	}
	text := resultText(res)
	if res.IsError {
		return "", core.NewError(errors.New(text), ErrCodeToolCall, map[string]any{"server": s.cfg.Name, "tool": name})
	}
	return text, nil
}

// Close ends the session. It is safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func resultText(res *mcpproto.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcpproto.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			return string(raw)
		}
	}
	return strings.Join(parts, "\n")
}
