package flow

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// ToolHandler executes a tool for a user. Handlers that do not need the user
// id ignore it. The returned string is the raw tool output fed back to the
// model.
type ToolHandler func(ctx context.Context, waID string, args []string) (string, error)

// Tool is one entry in the registry: a name, a handler, and localized
// descriptions used to build the tool manual in the system prompt.
type Tool struct {
	Name         string
	Handler      ToolHandler
	Descriptions map[string]string // language code -> description
}

// Description returns the tool's description in the requested language,
// falling back to English.
func (t *Tool) Description(lang string) string {
	if d, ok := t.Descriptions[lang]; ok {
		return d
	}
	return t.Descriptions[LangEnglish]
}

// ToolRegistry is a thread-safe registry of tools, preserving registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *ToolRegistry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	slog.Debug("ToolRegistry.Register: tool registered", "name", t.Name)
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Manual renders the tool manual injected into the system prompt, one line
// per tool in the requested language.
func (r *ToolRegistry) Manual(lang string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		b.WriteString("- {")
		b.WriteString(name)
		b.WriteString("}: ")
		b.WriteString(t.Description(lang))
		b.WriteString("\n")
	}
	return b.String()
}
