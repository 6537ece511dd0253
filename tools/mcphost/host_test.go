package mcphost

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/quailyquaily/slackrelay/llm"
	"github.com/quailyquaily/slackrelay/tools"
)

func newTestServer(t *testing.T, name string, gotToken *string) *client.Client {
	t.Helper()

	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("search",
		mcp.WithDescription("Search the workspace."),
		mcp.WithString("query", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if gotToken != nil && req.Params.Meta != nil {
			if v, ok := req.Params.Meta.AdditionalFields[AuthTokenMetaKey].(string); ok {
				*gotToken = v
			}
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(name + " found " + query), nil
	})
	s.AddTool(mcp.NewTool("explode",
		mcp.WithDescription("Always fails."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("no authoring context"), nil
	})

	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("NewInProcessClient() error = %v", err)
	}
	return c
}

func TestHostListsAndInvokesTools(t *testing.T) {
	var gotToken string
	ctx := context.Background()
	h, err := NewFromClients(ctx, map[string]*client.Client{
		"workspace": newTestServer(t, "workspace", &gotToken),
	}, nil)
	if err != nil {
		t.Fatalf("NewFromClients() error = %v", err)
	}
	defer func() { _ = h.Close() }()

	specs, err := h.Tools(ctx)
	if err != nil {
		t.Fatalf("Tools() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("len(specs) = %d, want 2", len(specs))
	}
	var search llm.ToolSpec
	for _, spec := range specs {
		if spec.Name == "search" {
			search = spec
		}
	}
	if search.Description != "Search the workspace." {
		t.Fatalf("description mismatch: got %q", search.Description)
	}
	if search.InputSchema["type"] != "object" {
		t.Fatalf("schema type mismatch: %#v", search.InputSchema)
	}
	props, _ := search.InputSchema["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Fatalf("schema missing query property: %#v", search.InputSchema)
	}

	parts, err := h.Invoke(ctx, "search", map[string]any{"query": "relay"}, "tok-123")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := llm.ContentText(parts); got != "workspace found relay" {
		t.Fatalf("result mismatch: got %q", got)
	}
	if gotToken != "tok-123" {
		t.Fatalf("auth token mismatch: got %q want %q", gotToken, "tok-123")
	}
}

func TestHostToolErrorBecomesError(t *testing.T) {
	ctx := context.Background()
	h, err := NewFromClients(ctx, map[string]*client.Client{
		"workspace": newTestServer(t, "workspace", nil),
	}, nil)
	if err != nil {
		t.Fatalf("NewFromClients() error = %v", err)
	}
	defer func() { _ = h.Close() }()

	_, err = h.Invoke(ctx, "explode", nil, "")
	if err == nil || !strings.Contains(err.Error(), "no authoring context") {
		t.Fatalf("Invoke() error = %v, want tool error text", err)
	}
	if _, err := h.Invoke(ctx, "missing", nil, ""); !errors.Is(err, tools.ErrToolNotFound) {
		t.Fatalf("Invoke() error = %v, want ErrToolNotFound", err)
	}
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest([]byte(`
servers:
  - name: workspace
    command: workspace-mcp
    args: ["--root", "/srv/repo"]
    env:
      LOG: debug
  - name: search
    url: http://127.0.0.1:7070/mcp
    headers:
      Authorization: Bearer abc
`))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	if len(m.Servers) != 2 {
		t.Fatalf("len(servers) = %d, want 2", len(m.Servers))
	}
	if got := m.Servers[0].envList(); len(got) != 1 || got[0] != "LOG=debug" {
		t.Fatalf("env mismatch: %#v", got)
	}
	if m.Servers[1].Headers["Authorization"] != "Bearer abc" {
		t.Fatalf("headers mismatch: %#v", m.Servers[1].Headers)
	}

	bad := []string{
		"servers:\n  - command: x\n",
		"servers:\n  - name: a\n",
		"servers:\n  - name: a\n    command: x\n    url: http://y\n",
		"servers:\n  - name: a\n    command: x\n  - name: a\n    command: y\n",
	}
	for _, raw := range bad {
		if _, err := ParseManifest([]byte(raw)); err == nil {
			t.Fatalf("ParseManifest(%q) expected error", raw)
		}
	}
}
