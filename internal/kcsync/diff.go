package kcsync

import (
	"log/slog"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/hupe1980/kcsync/internal/catalog"
	"github.com/hupe1980/kcsync/internal/kubeconfig"
	"github.com/hupe1980/kcsync/internal/reactive"
)

// ContextMap holds the entities of one file, keyed by context name.
type ContextMap = reactive.Map[string, catalog.Entity]

// DiffResult summarizes one reconciliation.
type DiffResult struct {
	Added   []string
	Removed []string
	Kept    []string
	// Failed lists contexts that were valid but could not be built.
	Failed []string
	// Cleared is set when the content could not be parsed and the map was
	// emptied.
	Cleared bool
	// Version is the map's version after the reconciliation.
	Version uint64
}

// Differ reconciles file content against a file's ContextMap.
type Differ struct {
	Parser  kubeconfig.Parser
	Builder kubeconfig.Builder
	Logger  *slog.Logger
	// Home is abbreviated to "~" in provenance labels.
	Home string
}

// NewDiffer creates a Differ with the default kubeconfig parser and builder.
func NewDiffer(logger *slog.Logger) *Differ {
	if logger == nil {
		logger = slog.Default()
	}

	return &Differ{
		Parser:  kubeconfig.NewParser(),
		Builder: kubeconfig.NewClusterBuilder(),
		Logger:  logger,
		Home:    homeDir(),
	}
}

// Apply reconciles content read from path into m as one atomic batch.
//
// Contexts missing from content are removed and new ones are built. A
// context whose name is already present is kept as is and is not rebuilt,
// even if its settings changed. Unparsable content clears m.
func (d *Differ) Apply(path string, content []byte, m *ContextMap) DiffResult {
	contexts, err := d.Parser.Parse(content)
	if err != nil {
		d.Logger.Warn("failed to parse kubeconfig, clearing its clusters",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		m.Clear()

		return DiffResult{Cleared: true, Version: m.Version()}
	}

	candidates := make(map[string]kubeconfig.Context, len(contexts))
	order := make([]string, 0, len(contexts))

	for _, c := range contexts {
		if err := d.Parser.Validate(c); err != nil {
			d.Logger.Debug("skipping invalid context",
				slog.String("path", path),
				slog.String("context", c.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if _, dup := candidates[c.Name]; !dup {
			order = append(order, c.Name)
		}

		candidates[c.Name] = c
	}

	pending := sets.New(order...)
	label := ProvenanceLabel(path, d.Home)

	var result DiffResult

	m.Batch(func(tx *reactive.Tx[string, catalog.Entity]) {
		for _, name := range tx.Keys() {
			if !pending.Has(name) {
				tx.Delete(name)
				result.Removed = append(result.Removed, name)

				continue
			}

			pending.Delete(name)
			result.Kept = append(result.Kept, name)
		}

		for _, name := range order {
			if !pending.Has(name) {
				continue
			}

			id := kubeconfig.Identity{ID: EntityID(path, name), FilePath: path, Label: label}

			entity, err := d.Builder.Build(id, candidates[name])
			if err != nil {
				d.Logger.Warn("failed to build cluster",
					slog.String("path", path),
					slog.String("context", name),
					slog.String("error", err.Error()),
				)

				result.Failed = append(result.Failed, name)

				continue
			}

			tx.Set(name, entity)
			result.Added = append(result.Added, name)
		}
	})

	sort.Strings(result.Removed)
	sort.Strings(result.Kept)

	result.Version = m.Version()

	d.Logger.Debug("reconciled kubeconfig",
		slog.String("path", path),
		slog.Int("added", len(result.Added)),
		slog.Int("removed", len(result.Removed)),
		slog.Int("kept", len(result.Kept)),
		slog.Uint64("version", result.Version),
	)

	return result
}
