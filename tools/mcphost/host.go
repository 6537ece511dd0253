// Package mcphost offers the tools of one or more MCP servers as a tools.Host.
package mcphost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/quailyquaily/slackrelay/llm"
	"github.com/quailyquaily/slackrelay/tools"
)

const (
	clientName    = "slackrelay"
	clientVersion = "0.1.0"
	// AuthTokenMetaKey carries the relay's tool auth token in _meta.
	AuthTokenMetaKey = "authToken"
)

type mcpServer struct {
	name   string
	client *client.Client
}

// Host implements tools.Host on top of MCP clients.
type Host struct {
	logger  *slog.Logger
	servers []*mcpServer

	mu     sync.Mutex
	owners map[string]*mcpServer
}

// Connect starts a client for every server in m and performs the MCP
// initialize handshake. Already started clients are closed on failure.
func Connect(ctx context.Context, m Manifest, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{logger: logger, owners: make(map[string]*mcpServer)}
	for _, cfg := range m.Servers {
		c, err := newClient(ctx, cfg)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("mcp server %s: %w", cfg.Name, err)
		}
		if err := h.attach(ctx, cfg.Name, c); err != nil {
			_ = c.Close()
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

// NewFromClients wraps already constructed clients, keyed by server name.
// The clients are started and initialized here.
func NewFromClients(ctx context.Context, clients map[string]*client.Client, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Host{logger: logger, owners: make(map[string]*mcpServer)}
	for name, c := range clients {
		if c == nil {
			continue
		}
		if err := c.Start(ctx); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("mcp server %s: start: %w", name, err)
		}
		if err := h.attach(ctx, name, c); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

func newClient(ctx context.Context, cfg ServerConfig) (*client.Client, error) {
	if cfg.Command != "" {
		return client.NewStdioMCPClient(cfg.Command, cfg.envList(), cfg.Args...)
	}
	var opts []transport.StreamableHTTPCOption
	if len(cfg.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
	}
	c, err := client.NewStreamableHttpClient(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("start: %w", err)
	}
	return c, nil
}

func (h *Host) attach(ctx context.Context, name string, c *client.Client) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	res, err := c.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("mcp server %s: initialize: %w", name, err)
	}
	h.servers = append(h.servers, &mcpServer{name: name, client: c})
	h.logger.Info("mcp_server_connected",
		"server", name,
		"server_name", res.ServerInfo.Name,
		"server_version", res.ServerInfo.Version,
	)
	return nil
}

// Tools lists tools across all servers. A name exposed by two servers is
// served by the first one in manifest order.
func (h *Host) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	if h == nil {
		return nil, nil
	}
	var out []llm.ToolSpec
	owners := make(map[string]*mcpServer)
	for _, s := range h.servers {
		res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: list tools: %w", s.name, err)
		}
		for _, t := range res.Tools {
			if _, taken := owners[t.Name]; taken {
				h.logger.Debug("mcp_tool_shadowed", "server", s.name, "tool", t.Name)
				continue
			}
			owners[t.Name] = s
			out = append(out, llm.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: toolInputSchema(t),
			})
		}
	}
	h.mu.Lock()
	h.owners = owners
	h.mu.Unlock()
	return out, nil
}

func (h *Host) Invoke(ctx context.Context, name string, input map[string]any, authToken string) ([]llm.Part, error) {
	if h == nil {
		return nil, fmt.Errorf("mcp host is not initialized")
	}
	s, err := h.owner(ctx, name)
	if err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = input
	if token := strings.TrimSpace(authToken); token != "" {
		req.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{AuthTokenMetaKey: token}}
	}
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: call %s: %w", s.name, name, err)
	}
	parts := convertContent(res.Content)
	if res.IsError {
		msg := strings.TrimSpace(llm.ContentText(parts))
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return parts, nil
}

func (h *Host) owner(ctx context.Context, name string) (*mcpServer, error) {
	h.mu.Lock()
	s, ok := h.owners[name]
	h.mu.Unlock()
	if ok {
		return s, nil
	}
	if _, err := h.Tools(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	s, ok = h.owners[name]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
	}
	return s, nil
}

// Servers returns the connected server names in manifest order.
func (h *Host) Servers() []string {
	if h == nil {
		return nil
	}
	out := make([]string, 0, len(h.servers))
	for _, s := range h.servers {
		out = append(out, s.name)
	}
	return out
}

func (h *Host) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, s := range h.servers {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp server %s: close: %w", s.name, err))
		}
	}
	h.servers = nil
	return errors.Join(errs...)
}

func toolInputSchema(t mcp.Tool) map[string]any {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var decoded struct {
		InputSchema map[string]any `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return decoded.InputSchema
}

func convertContent(content []mcp.Content) []llm.Part {
	out := make([]llm.Part, 0, len(content))
	for _, c := range content {
		if text, ok := mcp.AsTextContent(c); ok {
			out = append(out, llm.TextPart{Text: text.Text})
			continue
		}
		if img, ok := mcp.AsImageContent(c); ok {
			data, err := base64.StdEncoding.DecodeString(img.Data)
			if err == nil {
				out = append(out, llm.DataPart{MIMEType: img.MIMEType, Data: data})
				continue
			}
		}
		if res, ok := mcp.AsEmbeddedResource(c); ok {
			if text, ok := mcp.AsTextResourceContents(res.Resource); ok {
				out = append(out, llm.TextPart{Text: text.Text})
				continue
			}
		}
		raw, err := json.Marshal(c)
		if err != nil {
			continue
		}
		out = append(out, llm.TextPart{Text: string(raw)})
	}
	return out
}
