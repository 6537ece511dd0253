package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quailyquaily/slackrelay/integration"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
)

// ListDirTool is an example of a project-specific tool you provide to the model.
type ListDirTool struct {
	Root string
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "Lists files under a directory (relative to a configured root)."
}

func (t *ListDirTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Relative path under the configured root (default: .)."},
		},
	}
}

func (t *ListDirTool) Execute(_ context.Context, params map[string]any) (string, error) {
	rel, _ := params["path"].(string)
	if rel == "" {
		rel = "."
	}
	root, err := filepath.Abs(t.Root)
	if err != nil {
		return "", err
	}
	p, err := filepath.Abs(filepath.Join(root, rel))
	if err != nil {
		return "", err
	}
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root")
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return "", err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	b, _ := json.MarshalIndent(map[string]any{
		"root":  root,
		"path":  rel,
		"files": out,
	}, "", "  ")
	return string(b), nil
}

// stdoutDelivery prints each chunk the relay would post to Slack.
type stdoutDelivery struct{}

func (stdoutDelivery) Deliver(_ context.Context, req router.ChatRequest, chunks []string) error {
	for i, chunk := range chunks {
		fmt.Printf("--- %s chunk %d/%d ---\n%s\n", req.Thread, i+1, len(chunks), chunk)
	}
	return nil
}

func main() {
	var (
		prompt   = flag.String("prompt", "List the files here and summarize the project.", "Prompt to send.")
		model    = flag.String("model", "claude-sonnet-4-5", "Model name.")
		apiKey   = flag.String("api-key", os.Getenv("ANTHROPIC_API_KEY"), "API key (defaults to ANTHROPIC_API_KEY).")
		manifest = flag.String("mcp-manifest", "", "Optional MCP server manifest (YAML).")
	)
	flag.Parse()

	cfg := integration.DefaultConfig()
	cfg.Tools = append(cfg.Tools, &ListDirTool{Root: "."})
	cfg.Set("llm.provider", "anthropic")
	cfg.Set("llm.api_key", strings.TrimSpace(*apiKey))
	cfg.Set("llm.model", strings.TrimSpace(*model))
	cfg.Set("llm.request_timeout", 60*time.Second)
	cfg.Set("tools.manifest", strings.TrimSpace(*manifest))
	cfg.Set("relay.system_prompt", "You are a concise assistant for this repository.")

	rt, err := integration.New(cfg)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	prepared, err := rt.NewRelay(ctx, integration.RelayOptions{Delivery: stdoutDelivery{}})
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer func() { _ = prepared.Cleanup() }()

	key := session.Key{ChannelID: "demo", ThreadID: "1"}
	req := prepared.Router.NewRequest(key, *prompt, router.Meta{Target: "stdout"})
	if err := prepared.Relay.Handle(ctx, req); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if info, ok := prepared.Turns.Get(req.ID); ok && info.Error != "" {
		_, _ = fmt.Fprintln(os.Stderr, "turn failed:", info.Error)
		os.Exit(1)
	}
}
