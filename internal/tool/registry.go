package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"openbridge/internal/domain"
)

// Registry holds the locally executable tools offered to the model.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

func (r *Registry) Register(t domain.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.logger.Debug("registered tool", "name", t.Name())
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", fmt.Errorf("unknown tool: %s (available: %v)", name, r.Names())
	}
	return t.Execute(ctx, args)
}

// Definitions returns strict function tool specs, sorted by name.
func (r *Registry) Definitions() []domain.ToolSpec {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolSpec, 0, len(names))
	for _, n := range names {
		defs = append(defs, Spec(r.tools[n]))
	}
	return defs
}

// Spec describes t as a strict function tool.
func Spec(t domain.Tool) domain.ToolSpec {
	strict := true
	return domain.ToolSpec{
		Type:        "function",
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
		Strict:      &strict,
	}
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
