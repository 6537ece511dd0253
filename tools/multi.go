package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/quailyquaily/slackrelay/llm"
)

// MultiHost merges several hosts. When two hosts expose the same tool name
// the earlier host wins.
type MultiHost struct {
	hosts []Host

	mu     sync.Mutex
	owners map[string]Host
}

func NewMultiHost(hosts ...Host) *MultiHost {
	out := &MultiHost{owners: make(map[string]Host)}
	for _, h := range hosts {
		if h != nil {
			out.hosts = append(out.hosts, h)
		}
	}
	return out
}

func (m *MultiHost) Tools(ctx context.Context) ([]llm.ToolSpec, error) {
	if m == nil {
		return nil, nil
	}
	var out []llm.ToolSpec
	owners := make(map[string]Host)
	for _, h := range m.hosts {
		specs, err := h.Tools(ctx)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			if _, taken := owners[spec.Name]; taken {
				continue
			}
			owners[spec.Name] = h
			out = append(out, spec)
		}
	}
	m.mu.Lock()
	m.owners = owners
	m.mu.Unlock()
	return out, nil
}

func (m *MultiHost) Invoke(ctx context.Context, name string, input map[string]any, authToken string) ([]llm.Part, error) {
	if m == nil {
		return nil, fmt.Errorf("tool host is not initialized")
	}
	m.mu.Lock()
	owner, ok := m.owners[name]
	m.mu.Unlock()
	if !ok {
		if _, err := m.Tools(ctx); err != nil {
			return nil, err
		}
		m.mu.Lock()
		owner, ok = m.owners[name]
		m.mu.Unlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return owner.Invoke(ctx, name, input, authToken)
}
