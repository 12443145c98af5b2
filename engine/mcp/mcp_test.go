package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comfyflow/agentmode/engine/core"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type headerKey struct{}

type testServer struct {
	*httptest.Server
	lists atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	s := server.NewMCPServer("workflow", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(ts.hooks()),
	)
	s.AddTool(
		mcpproto.NewTool("recall_workflow",
			mcpproto.WithDescription("Find a stored workflow"),
			mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("What to build")),
		),
		func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			session, _ := ctx.Value(headerKey{}).(string)
			query := req.GetString("query", "")
			return mcpproto.NewToolResultText(`{"session":"` + session + `","query":"` + query + `","ext":[{"type":"workflow_update"}]}`), nil
		},
	)
	s.AddTool(
		mcpproto.NewTool("explode", mcpproto.WithDescription("Always fails")),
		func(context.Context, mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			return mcpproto.NewToolResultError("backend exploded"), nil
		},
	)
	ts.Server = server.NewTestServer(s, server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
		return context.WithValue(ctx, headerKey{}, r.Header.Get("X-Session-Id"))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddAfterListTools(func(context.Context, any, *mcpproto.ListToolsRequest, *mcpproto.ListToolsResult) {
		ts.lists.Add(1)
	})
	return hooks
}

func (ts *testServer) config(name string) ServerConfig {
	return ServerConfig{
		Name:           name,
		URL:            ts.URL + "/sse",
		Headers:        SessionHeaders("session-1", "secret"),
		Timeout:        5 * time.Second,
		SessionTimeout: 5 * time.Second,
	}
}

func TestOpen(t *testing.T) {
	t.Run("Should return an empty set when no server is configured", func(t *testing.T) {
		set, err := Open(t.Context(), nil)
		require.NoError(t, err)
		assert.Zero(t, set.Len())
		assert.Empty(t, set.Sources())
		assert.NoError(t, set.Close())
	})

	t.Run("Should list and call remote tools with session headers", func(t *testing.T) {
		ts := newTestServer(t)
		set, err := Open(t.Context(), nil, ts.config("workflow"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = set.Close() })
		require.Len(t, set.Sources(), 1)

		tools, err := set.Sources()[0].ListTools(t.Context())
		require.NoError(t, err)
		byName := map[string]int{}
		for i, tl := range tools {
			byName[tl.Name()] = i
		}
		require.Contains(t, byName, "recall_workflow")
		recall := tools[byName["recall_workflow"]]
		schema := recall.InputSchema()
		assert.Equal(t, "object", schema["type"])
		assert.Contains(t, schema["properties"], "query")

		out, err := recall.Call(t.Context(), `{"query":"txt2img"}`)
		require.NoError(t, err)
		assert.Equal(t, "session-1", gjson.Get(out, "session").String())
		assert.Equal(t, "txt2img", gjson.Get(out, "query").String())
		assert.True(t, gjson.Get(out, "ext").Exists())
	})

	t.Run("Should keep the session usable after the transport timeout elapses", func(t *testing.T) {
		ts := newTestServer(t)
		cfg := ts.config("workflow")
		cfg.Timeout = 500 * time.Millisecond
		set, err := Open(t.Context(), nil, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = set.Close() })
		tools, err := set.Sources()[0].ListTools(t.Context())
		require.NoError(t, err)

		time.Sleep(3 * cfg.Timeout)

		var called bool
		for _, tl := range tools {
			if tl.Name() != "recall_workflow" {
				continue
			}
			out, err := tl.Call(t.Context(), `{"query":"upscale"}`)
			require.NoError(t, err)
			assert.Equal(t, "upscale", gjson.Get(out, "query").String())
			called = true
		}
		assert.True(t, called)
	})

	t.Run("Should not put an overall timeout on the stream client", func(t *testing.T) {
		c := newHTTPClient(time.Second)
		assert.Zero(t, c.Timeout)
		tr, ok := c.Transport.(*http.Transport)
		require.True(t, ok)
		assert.Equal(t, time.Second, tr.ResponseHeaderTimeout)
	})

	t.Run("Should reject arguments that miss required fields", func(t *testing.T) {
		ts := newTestServer(t)
		set, err := Open(t.Context(), nil, ts.config("workflow"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = set.Close() })
		tools, err := set.Sources()[0].ListTools(t.Context())
		require.NoError(t, err)
		for _, tl := range tools {
			if tl.Name() != "recall_workflow" {
				continue
			}
			_, err := tl.Call(t.Context(), `{}`)
			assert.Equal(t, ErrCodeToolCall, core.ErrorCode(err))
			assert.ErrorContains(t, err, "do not match its schema")
		}
	})

	t.Run("Should turn tool errors into coded errors", func(t *testing.T) {
		ts := newTestServer(t)
		set, err := Open(t.Context(), nil, ts.config("workflow"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = set.Close() })
		tools, err := set.Sources()[0].ListTools(t.Context())
		require.NoError(t, err)
		for _, tl := range tools {
			if tl.Name() != "explode" {
				continue
			}
			assert.Equal(t, map[string]any{}, tl.InputSchema()["properties"])
			_, err := tl.Call(t.Context(), "")
			assert.Equal(t, ErrCodeToolCall, core.ErrorCode(err))
			assert.ErrorContains(t, err, "backend exploded")
		}
	})

	t.Run("Should cache tool listings across connections", func(t *testing.T) {
		ts := newTestServer(t)
		cache := NewToolCache(time.Minute)
		for range 2 {
			set, err := Open(t.Context(), cache, ts.config("workflow"))
			require.NoError(t, err)
			_, err = set.Sources()[0].ListTools(t.Context())
			require.NoError(t, err)
			require.NoError(t, set.Close())
		}
		assert.Equal(t, int32(1), ts.lists.Load())
	})

	t.Run("Should close opened sources when one server fails", func(t *testing.T) {
		ts := newTestServer(t)
		bad := ts.config("search")
		bad.URL = "http://127.0.0.1:1/sse"
		set, err := Open(t.Context(), nil, ts.config("workflow"), bad)
		assert.Nil(t, set)
		assert.Equal(t, ErrCodeConnection, core.ErrorCode(err))
	})

	t.Run("Should reject invalid server configs", func(t *testing.T) {
		_, err := Open(t.Context(), nil, ServerConfig{Name: "x", URL: "ftp://host/sse"})
		assert.Equal(t, ErrCodeConnection, core.ErrorCode(err))
	})
}

func TestSet_Close(t *testing.T) {
	t.Run("Should be idempotent", func(t *testing.T) {
		ts := newTestServer(t)
		set, err := Open(t.Context(), nil, ts.config("workflow"))
		require.NoError(t, err)
		first := set.Close()
		assert.Equal(t, first, set.Close())
	})
}
