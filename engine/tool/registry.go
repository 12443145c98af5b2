package tool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/comfyflow/agentmode/engine/core"
	llmadapter "github.com/comfyflow/agentmode/engine/llm/adapter"
)

// Registry holds named tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]llmadapter.Tool
	order []string
}

func NewRegistry(tools ...llmadapter.Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]llmadapter.Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names are case-sensitive after trimming.
func (r *Registry) Register(t llmadapter.Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (llmadapter.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.TrimSpace(name)]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Select returns the named tools in the order given.
func (r *Registry) Select(names ...string) ([]llmadapter.Tool, error) {
	out := make([]llmadapter.Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.Lookup(name)
		if !ok {
			return nil, core.NewError(
				fmt.Errorf("tool %q is not registered", name),
				ErrCodeToolNotFound,
				map[string]any{"tool": name},
			)
		}
		out = append(out, t)
	}
	return out, nil
}
