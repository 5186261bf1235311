package tools

import (
	"sort"

	"github.com/quibitai/qubit-orchestrator/internal/core/ports"
)

// Registry holds the static tool set. Listing order is stable (by name) so
// engine tool selection is deterministic.
type Registry struct {
	ordered []ports.Tool
	byName  map[string]ports.Tool
}

func NewRegistry(available ...ports.Tool) *Registry {
	byName := make(map[string]ports.Tool, len(available))
	ordered := make([]ports.Tool, 0, len(available))
	for _, tool := range available {
		if tool == nil {
			continue
		}
		if _, exists := byName[tool.Name()]; exists {
			continue
		}
		byName[tool.Name()] = tool
		ordered = append(ordered, tool)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Name() < ordered[j].Name()
	})
	return &Registry{ordered: ordered, byName: byName}
}

func (r *Registry) List() []ports.Tool {
	out := make([]ports.Tool, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *Registry) Get(name string) (ports.Tool, bool) {
	tool, ok := r.byName[name]
	return tool, ok
}
