// Package catalog defines the entity records kcsync publishes and the
// registry that unions live entity views from multiple named sources.
package catalog

import (
	"sort"
	"sync"

	"github.com/hupe1980/kcsync/internal/reactive"
)

// Entity kinds and defaults.
const (
	APIVersion        = "entity.kcsync.dev/v1alpha1"
	KindCluster       = "KubernetesCluster"
	SourceLocal       = "local"
	PhaseDisconnected = "disconnected"
	LabelFile         = "file"
)

// Entity is one catalog record, derived from a single kubeconfig context.
type Entity struct {
	APIVersion string      `json:"apiVersion"`
	Kind       string      `json:"kind"`
	Metadata   Metadata    `json:"metadata"`
	Spec       ClusterSpec `json:"spec"`
	Status     Status      `json:"status"`
}

// Metadata identifies an Entity.
type Metadata struct {
	// UID is deterministic for a (file, context) pair.
	UID    string            `json:"uid"`
	Name   string            `json:"name"`
	Source string            `json:"source"`
	Labels map[string]string `json:"labels,omitempty"`
}

// ClusterSpec describes how to reach the cluster.
type ClusterSpec struct {
	KubeconfigPath    string `json:"kubeconfigPath"`
	KubeconfigContext string `json:"kubeconfigContext"`
	Server            string `json:"server,omitempty"`
	Namespace         string `json:"namespace,omitempty"`
	User              string `json:"user,omitempty"`
}

// Status is the observed state of an Entity.
type Status struct {
	Phase string `json:"phase"`
}

// View is a live, read-only sequence of entities.
type View interface {
	// Entities returns the current entities. Callers must not mutate the
	// returned slice.
	Entities() []Entity

	// Subscribe registers fn to be called after the view changes.
	Subscribe(fn func()) (unsubscribe func())
}

// SortEntities orders entities by name, then UID.
func SortEntities(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Metadata.Name != entities[j].Metadata.Name {
			return entities[i].Metadata.Name < entities[j].Metadata.Name
		}

		return entities[i].Metadata.UID < entities[j].Metadata.UID
	})
}

// Registry unions the entities of every registered source.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*registration
	nextID  uint64
	items   *reactive.Computed[[]Entity]
}

type registration struct {
	id          uint64
	view        View
	unsubscribe func()
}

// compile-time interface conformance check.
var _ View = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]*registration)}
	r.items = reactive.NewComputed(r.union)

	return r
}

// Add registers view under name, replacing any view already registered under
// that name. The returned function removes the registration; it only removes
// this particular registration and is safe to call repeatedly.
func (r *Registry) Add(name string, view View) (remove func()) {
	r.mu.Lock()

	if prev, ok := r.sources[name]; ok {
		prev.unsubscribe()
	}

	reg := &registration{
		id:          r.nextID,
		view:        view,
		unsubscribe: view.Subscribe(r.items.Invalidate),
	}
	r.nextID++
	r.sources[name] = reg
	r.mu.Unlock()

	r.items.Invalidate()

	var once sync.Once

	return func() {
		once.Do(func() {
			r.mu.Lock()

			cur, ok := r.sources[name]
			if !ok || cur.id != reg.id {
				r.mu.Unlock()
				return
			}

			reg.unsubscribe()
			delete(r.sources, name)
			r.mu.Unlock()

			r.items.Invalidate()
		})
	}
}

// Sources returns the registered source names in sorted order.
func (r *Registry) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Entities returns the union of all registered views, sorted by name and UID.
func (r *Registry) Entities() []Entity {
	return r.items.Get()
}

// Subscribe registers fn to be called after any registered view changes or
// the set of registrations changes.
func (r *Registry) Subscribe(fn func()) func() {
	return r.items.Subscribe(fn)
}

func (r *Registry) union() []Entity {
	r.mu.Lock()
	views := make([]View, 0, len(r.sources))

	for _, reg := range r.sources {
		views = append(views, reg.view)
	}
	r.mu.Unlock()

	var out []Entity
	for _, v := range views {
		out = append(out, v.Entities()...)
	}

	SortEntities(out)

	return out
}
