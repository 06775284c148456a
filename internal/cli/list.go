package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/logging"
	"github.com/hupe1980/kcsync/internal/output"
)

type listOptions struct {
	format  string
	file    string
	timeout time.Duration
}

func newListCommand() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list [paths...]",
		Short: "Scan kubeconfig paths once and print the cluster catalog",
		Long: `List performs a single sync pass over the configured paths (or the
paths given as arguments) plus the managed directory, waits until every
file has been read, and prints the resulting catalog.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd, args, opts)
		},
	}

	registerOutputFlags(cmd, &opts.format)

	f := cmd.Flags()
	f.StringVar(&opts.file, "file", "", "write the catalog to a file instead of stdout")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "maximum time to wait for the scan to settle")

	return cmd
}

func runList(ctx context.Context, cmd *cobra.Command, args []string, opts *listOptions) error {
	render, err := output.DefaultRegistry().Renderer(opts.format)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	e := newEngine(cfg, args, logger)
	e.manager.Start()

	defer func() { _ = e.manager.Stop() }()

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := e.manager.WaitIdle(waitCtx); err != nil {
		return err
	}

	data, err := render(e.registry.Entities())
	if err != nil {
		return fmt.Errorf("rendering catalog: %w", err)
	}

	if opts.file == "" {
		return output.NewStdoutWriter(cmd.OutOrStdout()).Write(data)
	}

	return output.NewWriter(opts.file, logger).Write(data)
}
