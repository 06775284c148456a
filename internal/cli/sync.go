package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/kcsync/internal/catalog"
	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/logging"
	"github.com/hupe1980/kcsync/internal/output"
	"github.com/hupe1980/kcsync/internal/version"
)

type syncOptions struct {
	summary bool
}

func newSyncCommand() *cobra.Command {
	opts := &syncOptions{}

	cmd := &cobra.Command{
		Use:   "sync [paths...]",
		Short: "Continuously sync kubeconfig paths and print catalog changes",
		Long: `Sync watches the configured paths (or the paths given as arguments)
plus the managed directory and prints a unified diff of the cluster
catalog every time it changes. It runs until interrupted.

When no paths are given and a config file is in use, edits to its
sync-paths are applied live.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.summary, "summary", false, "print a one-line summary per change instead of a diff")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, args []string, opts *syncOptions) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", slog.String("version", version.GetInfo().Short()))

	e := newEngine(cfg, args, logger)

	changed := make(chan struct{}, 1)
	unsubscribe := e.registry.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	defer unsubscribe()

	e.manager.Start()

	defer func() {
		if err := e.manager.Stop(); err != nil {
			logger.Warn("stopping sync failed", slog.String("error", err.Error()))
		}
	}()

	if len(args) == 0 && cfg.ConfigFile != "" {
		err := config.Watch(cmd, cfg.ConfigFile, func(next *config.Config) {
			logger.Info("config file changed, updating sync paths", slog.String("path", next.ConfigFile))
			e.paths.Replace(next.ResolvedSyncPaths())
		}, func(err error) {
			logger.Warn("ignoring invalid config revision", slog.String("error", err.Error()))
		})
		if err != nil {
			logger.Warn("watching config file failed", slog.String("error", err.Error()))
		}
	}

	// The initial scan is reported as one change.
	if err := e.manager.WaitIdle(ctx); err != nil {
		return nil //nolint:nilerr // interrupted before the first scan settled
	}

	printer := &changePrinter{
		out:     cmd.OutOrStdout(),
		color:   !cfg.NoColor,
		summary: opts.summary,
	}

	if err := printer.print(e.registry.Entities()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("sync interrupted")
			return nil
		case <-changed:
			if err := printer.print(e.registry.Entities()); err != nil {
				return err
			}
		}
	}
}

// changePrinter prints the difference between successive catalog snapshots.
type changePrinter struct {
	out     io.Writer
	color   bool
	summary bool
	prev    []catalog.Entity
	printed bool
}

func (p *changePrinter) print(cur []catalog.Entity) error {
	changes := output.SummarizeChanges(p.prev, cur)

	result, err := output.DiffEntities(p.prev, cur, output.DefaultDiffOptions())
	if err != nil {
		return fmt.Errorf("diffing catalog: %w", err)
	}

	// Skip notifications that left the rendering unchanged, except for the
	// very first snapshot.
	if p.printed && !result.HasDifferences {
		return nil
	}

	p.prev = cur
	p.printed = true

	if p.summary {
		_, err := fmt.Fprintf(p.out, "catalog: %d cluster(s) (%s)\n", len(cur), changes)
		return err
	}

	_, _ = fmt.Fprintf(p.out, "# catalog: %d cluster(s) (%s)\n", len(cur), changes)
	output.WriteDiff(p.out, result, p.color)

	return nil
}
