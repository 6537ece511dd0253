// Package agent runs the model/tool loop for one relay turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quailyquaily/slackrelay/llm"
	"github.com/quailyquaily/slackrelay/tools"
)

const DefaultMaxRounds = 20

// OutputSink receives live output while a turn runs.
type OutputSink interface {
	// Markdown receives streamed answer text.
	Markdown(text string)
	// Progress receives transient status notes.
	Progress(text string)
}

type nopSink struct{}

func (nopSink) Markdown(string) {}
func (nopSink) Progress(string) {}

type Engine struct {
	model     llm.Model
	host      tools.Host
	log       *slog.Logger
	maxRounds int
	modelName string
	roots     []string
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logger
		}
	}
}

func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithModelName sets llm.Request.Model; empty leaves the adapter default.
func WithModelName(name string) Option {
	return func(e *Engine) {
		e.modelName = strings.TrimSpace(name)
	}
}

// WithWorkspaceRoots sets the directories relative file paths resolve
// against. Only the first root is used.
func WithWorkspaceRoots(roots ...string) Option {
	return func(e *Engine) {
		for _, root := range roots {
			if root = strings.TrimSpace(root); root != "" {
				e.roots = append(e.roots, root)
			}
		}
	}
}

func New(model llm.Model, host tools.Host, opts ...Option) *Engine {
	e := &Engine{
		model:     model,
		host:      host,
		log:       slog.Default(),
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

type RunOptions struct {
	Sink      OutputSink
	AuthToken string
	System    string
}

// Run drives the model until it answers without tool calls or the round cap
// is reached, and returns the text streamed across all rounds. Tool failures
// are folded into tool results; model failures and cancellation are returned.
func (e *Engine) Run(ctx context.Context, messages []llm.Message, opts RunOptions) (string, error) {
	if e == nil || e.model == nil {
		return "", fmt.Errorf("agent engine is not initialized")
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	working := append([]llm.Message(nil), messages...)
	var result strings.Builder

	for round := 1; round <= e.maxRounds; round++ {
		specs, err := e.toolSpecs(ctx)
		if err != nil {
			return result.String(), fmt.Errorf("list tools: %w", err)
		}

		var (
			roundText strings.Builder
			calls     []llm.ToolCallPart
		)
		req := llm.Request{
			Model:    e.modelName,
			System:   opts.System,
			Messages: working,
			Tools:    specs,
		}
		for part, err := range e.model.Stream(ctx, req) {
			if err != nil {
				return result.String(), fmt.Errorf("model stream: %w", err)
			}
			switch p := part.(type) {
			case llm.TextPart:
				roundText.WriteString(p.Text)
				result.WriteString(p.Text)
				sink.Markdown(p.Text)
			case llm.ToolCallPart:
				calls = append(calls, p)
			}
		}
		e.log.Debug("agent_round", "round", round, "text_len", roundText.Len(), "tool_calls", len(calls))

		if len(calls) == 0 {
			return result.String(), nil
		}

		turn := llm.Message{Role: llm.RoleAssistant}
		if roundText.Len() > 0 {
			turn.Parts = append(turn.Parts, llm.TextPart{Text: roundText.String()})
		}
		for _, call := range calls {
			turn.Parts = append(turn.Parts, call)
		}
		working = append(working, turn)

		results := make([]llm.Part, 0, len(calls))
		for _, call := range calls {
			res, err := e.invokeTool(ctx, call, opts.AuthToken, sink)
			if err != nil {
				return result.String(), err
			}
			results = append(results, res)
		}
		working = append(working, llm.Message{Role: llm.RoleUser, Parts: results})
	}

	e.log.Warn("agent_round_cap", "rounds", e.maxRounds)
	sink.Progress(fmt.Sprintf("Stopped after %d tool rounds.", e.maxRounds))
	return result.String(), nil
}

func (e *Engine) toolSpecs(ctx context.Context) ([]llm.ToolSpec, error) {
	if e.host == nil {
		return nil, nil
	}
	return e.host.Tools(ctx)
}

// invokeTool never fails for tool errors; the returned error is only set
// when ctx is done.
func (e *Engine) invokeTool(ctx context.Context, call llm.ToolCallPart, authToken string, sink OutputSink) (llm.ToolResultPart, error) {
	sink.Progress(fmt.Sprintf("Running tool %s…", call.Name))
	e.log.Info("agent_tool_call", "tool", call.Name, "call_id", call.ID, "args", toolArgsSummary(call.Name, call.Input))

	var (
		content []llm.Part
		err     error
	)
	if e.host == nil {
		err = fmt.Errorf("no tool host is configured")
	} else {
		content, err = e.host.Invoke(ctx, call.Name, call.Input, authToken)
	}
	if err == nil {
		return llm.ToolResultPart{CallID: call.ID, Content: content}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return llm.ToolResultPart{}, ctxErr
	}
	e.log.Warn("agent_tool_error", "tool", call.Name, "call_id", call.ID, "error", err.Error())

	if text, eligible, fbErr := e.structuralFallback(call); eligible {
		if fbErr == nil {
			e.log.Info("agent_tool_fallback", "tool", call.Name, "call_id", call.ID)
			return llm.ToolResultPart{CallID: call.ID, Content: []llm.Part{llm.TextPart{Text: text}}}, nil
		}
		e.log.Warn("agent_tool_fallback_error", "tool", call.Name, "call_id", call.ID, "error", fbErr.Error())
	}
	return llm.ToolResultPart{
		CallID:  call.ID,
		Content: []llm.Part{llm.TextPart{Text: fmt.Sprintf("Error invoking tool %s: %s", call.Name, err.Error())}},
		IsError: true,
	}, nil
}
