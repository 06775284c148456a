package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/kcsync/internal/catalog"
)

// Renderer turns entities into printable bytes.
type Renderer func(entities []catalog.Entity) ([]byte, error)

// Built-in format names.
const (
	FormatTable = "table"
	FormatYAML  = "yaml"
	FormatJSON  = "json"
)

// Registry maps format names to Renderer functions, enabling pluggable
// output formats for the list and sync commands.
type Registry struct {
	mu        sync.RWMutex
	renderers map[string]Renderer
}

// NewRegistry creates an empty renderer registry.
func NewRegistry() *Registry {
	return &Registry{
		renderers: make(map[string]Renderer),
	}
}

// Register adds a renderer under the given format name.
// Existing entries for the same name are overwritten.
func (r *Registry) Register(name string, renderer Renderer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.renderers[name] = renderer
}

// Renderer returns the renderer for the given format, or an error if not
// found.
func (r *Registry) Renderer(name string) (Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.renderers[name]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (available: %s)", name, r.availableLocked())
	}

	return f, nil
}

// Formats returns the sorted list of registered format names.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.formatsLocked()
}

// AvailableFormats returns a comma-separated string of registered format names.
func (r *Registry) AvailableFormats() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.availableLocked()
}

func (r *Registry) formatsLocked() []string {
	names := make([]string, 0, len(r.renderers))
	for name := range r.renderers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *Registry) availableLocked() string {
	formats := r.formatsLocked()
	if len(formats) == 0 {
		return "none"
	}

	return strings.Join(formats, ", ")
}

// DefaultRegistry returns a registry pre-populated with the built-in
// output formats: table, yaml, json.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(FormatTable, SerializeTable)
	r.Register(FormatYAML, SerializeYAML)
	r.Register(FormatJSON, func(entities []catalog.Entity) ([]byte, error) {
		return SerializeJSON(entities, "  ")
	})

	return r
}
