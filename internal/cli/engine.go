package cli

import (
	"log/slog"

	"github.com/hupe1980/kcsync/internal/catalog"
	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/kcsync"
	"github.com/hupe1980/kcsync/internal/logging"
)

// engine wires a sync manager to a fresh catalog.
type engine struct {
	registry *catalog.Registry
	paths    *config.PathSet
	manager  *kcsync.Manager
}

// newEngine builds an engine for cfg. Positional args replace the configured
// sync paths.
func newEngine(cfg *config.Config, args []string, logger *slog.Logger) *engine {
	paths := cfg.ResolvedSyncPaths()
	if len(args) > 0 {
		paths = make([]string, 0, len(args))
		for _, a := range args {
			paths = append(paths, config.ExpandPath(a))
		}
	}

	e := &engine{
		registry: catalog.NewRegistry(),
		paths:    config.NewPathSet(paths...),
	}

	e.manager = kcsync.NewManager(kcsync.Options{
		Registry:   e.registry,
		Paths:      e.paths,
		ManagedDir: cfg.ResolvedManagedDir(),
		Source: kcsync.SourceOptions{
			Debounce:    cfg.Debounce,
			MaxFileSize: cfg.MaxFileSize,
			Logger:      logging.Component(logger, "source"),
		},
		Logger: logging.Component(logger, "sync"),
	})

	return e
}
