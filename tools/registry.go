package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/quailyquaily/slackrelay/llm"
)

// Registry is a Host backed by in-process tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return
	}
	r.mu.Lock()
	r.tools[name] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	t, ok := r.tools[strings.TrimSpace(name)]
	r.mu.RUnlock()
	return t, ok
}

// All returns the registered tools sorted by name.
func (r *Registry) All() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (r *Registry) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	all := r.All()
	out := make([]llm.ToolSpec, 0, len(all))
	for _, t := range all {
		out = append(out, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return out, nil
}

func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any, _ string) ([]llm.Part, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	out, err := t.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	return []llm.Part{llm.TextPart{Text: out}}, nil
}
