package tools

import (
	"context"
	"errors"

	"github.com/quailyquaily/slackrelay/llm"
)

var ErrToolNotFound = errors.New("tool not found")

// Host lists and invokes the tools available to the model.
type Host interface {
	Tools(ctx context.Context) ([]llm.ToolSpec, error)
	// Invoke runs the named tool. authToken is forwarded to hosts that
	// authorize calls; local tools ignore it.
	Invoke(ctx context.Context, name string, input map[string]any, authToken string) ([]llm.Part, error)
}

// Tool is an in-process tool registered with a Registry.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, input map[string]any) (string, error)
}
