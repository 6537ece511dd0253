package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quailyquaily/slackrelay/agent"
	"github.com/quailyquaily/slackrelay/internal/logutil"
	"github.com/quailyquaily/slackrelay/internal/relay"
	"github.com/quailyquaily/slackrelay/internal/router"
	"github.com/quailyquaily/slackrelay/internal/session"
	"github.com/quailyquaily/slackrelay/internal/statusapi"
	"github.com/quailyquaily/slackrelay/llm"
	"github.com/quailyquaily/slackrelay/llm/anthropic"
	"github.com/quailyquaily/slackrelay/tools"
	"github.com/quailyquaily/slackrelay/tools/mcphost"
	"github.com/spf13/viper"
)

// Runtime is the reusable wiring entrypoint for third-party embedding.
type Runtime struct {
	cfg Config
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]any{}
	}
	ApplyViperDefaults()

	for k, v := range cfg.Overrides {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		viper.Set(key, v)
	}

	return &Runtime{cfg: cfg}, nil
}

// Logger returns the configured logger.
func (rt *Runtime) Logger() (*slog.Logger, error) {
	if rt != nil && rt.cfg.Logger != nil {
		return rt.cfg.Logger, nil
	}
	return logutil.LoggerFromViper()
}

// NewModel builds the streaming model client named by llm.provider.
func (rt *Runtime) NewModel(logger *slog.Logger) (llm.Model, string, error) {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	model := strings.TrimSpace(viper.GetString("llm.model"))
	switch provider {
	case "", "anthropic":
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = viper.GetDuration("llm.request_timeout")
		client, err := anthropic.New(anthropic.Config{
			APIKey:     viper.GetString("llm.api_key"),
			Endpoint:   viper.GetString("llm.endpoint"),
			Model:      model,
			MaxTokens:  viper.GetInt("llm.max_tokens"),
			HTTPClient: &http.Client{Transport: transport},
			Logger:     logger,
		})
		if err != nil {
			return nil, "", err
		}
		return client, model, nil
	default:
		return nil, "", fmt.Errorf("unsupported llm.provider %q", provider)
	}
}

// NewToolHost combines the configured in-process tools with the MCP servers
// listed in tools.manifest. The returned cleanup closes MCP sessions.
func (rt *Runtime) NewToolHost(ctx context.Context, logger *slog.Logger) (tools.Host, func() error, error) {
	noop := func() error { return nil }
	var hosts []tools.Host
	if rt != nil && len(rt.cfg.Tools) > 0 {
		reg := tools.NewRegistry()
		for _, t := range rt.cfg.Tools {
			reg.Register(t)
		}
		hosts = append(hosts, reg)
	}

	manifestPath := strings.TrimSpace(viper.GetString("tools.manifest"))
	if manifestPath == "" {
		if len(hosts) == 0 {
			return nil, noop, nil
		}
		return tools.NewMultiHost(hosts...), noop, nil
	}
	manifest, err := mcphost.LoadManifest(manifestPath)
	if err != nil {
		return nil, noop, err
	}
	mcpHost, err := mcphost.Connect(ctx, manifest, logger)
	if err != nil {
		return nil, noop, fmt.Errorf("connect mcp servers: %w", err)
	}
	hosts = append(hosts, mcpHost)
	return tools.NewMultiHost(hosts...), mcpHost.Close, nil
}

type PreparedEngine struct {
	Engine  *agent.Engine
	Model   string
	Cleanup func() error
}

func (rt *Runtime) NewEngine(ctx context.Context, logger *slog.Logger) (*PreparedEngine, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	model, modelName, err := rt.NewModel(logger)
	if err != nil {
		return nil, err
	}
	host, cleanup, err := rt.NewToolHost(ctx, logger)
	if err != nil {
		return nil, err
	}
	engine := agent.New(model, host,
		agent.WithLogger(logger),
		agent.WithMaxRounds(viper.GetInt("agent.max_rounds")),
		agent.WithModelName(modelName),
		agent.WithWorkspaceRoots(viper.GetStringSlice("agent.workspace_roots")...),
	)
	return &PreparedEngine{Engine: engine, Model: modelName, Cleanup: cleanup}, nil
}

type RelayOptions struct {
	Delivery relay.Delivery
	Sinks    relay.SinkFactory
	Logger   *slog.Logger
	// Runner replaces the engine built from configuration.
	Runner relay.Runner
}

type PreparedRelay struct {
	Relay    *relay.Relay
	Router   *router.Router
	Sessions *session.Store
	Turns    *statusapi.TurnLog
	Cleanup  func() error
}

// NewRelay wires session store, router, engine and turn log into a Relay.
func (rt *Runtime) NewRelay(ctx context.Context, opts RelayOptions) (*PreparedRelay, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is nil")
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = rt.Logger(); err != nil {
			return nil, err
		}
	}

	cleanup := func() error { return nil }
	runner := opts.Runner
	if runner == nil {
		prepared, err := rt.NewEngine(ctx, logger)
		if err != nil {
			return nil, err
		}
		runner = prepared.Engine
		cleanup = prepared.Cleanup
	}

	sessions := session.NewStore(session.Options{MaxHistory: viper.GetInt("session.max_history")})
	rtr := router.New(router.Options{
		QueueSize: viper.GetInt("relay.queue_size"),
		Workers:   viper.GetInt("relay.workers"),
		Logger:    logger,
	})
	turns := statusapi.NewTurnLog(statusapi.TurnLogOptions{MaxTurns: viper.GetInt("status.max_turns")})
	r, err := relay.New(relay.Options{
		Sessions:     sessions,
		Runner:       runner,
		Router:       rtr,
		Delivery:     opts.Delivery,
		Turns:        turns,
		Sinks:        opts.Sinks,
		SystemPrompt: viper.GetString("relay.system_prompt"),
		AuthToken:    viper.GetString("tools.auth_token"),
		TurnTimeout:  viper.GetDuration("relay.turn_timeout"),
		Logger:       logger,
	})
	if err != nil {
		return nil, errors.Join(err, cleanup())
	}
	return &PreparedRelay{
		Relay:    r,
		Router:   rtr,
		Sessions: sessions,
		Turns:    turns,
		Cleanup:  cleanup,
	}, nil
}
