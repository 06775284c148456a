package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/kubeconfig"
	"github.com/hupe1980/kcsync/internal/logging"
)

type importOptions struct {
	name  string
	force bool
}

func newImportCommand() *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a kubeconfig and copy it into the managed directory",
		Long: `Import validates every context of a kubeconfig file and writes the
usable ones into the managed directory, where a running sync picks them
up. Unusable contexts are reported and left out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "file name inside the managed directory (default: source file name)")
	f.BoolVar(&opts.force, "force", false, "overwrite an existing file")

	return cmd
}

func runImport(cmd *cobra.Command, src string, opts *importOptions) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	content, err := os.ReadFile(config.ExpandPath(src))
	if err != nil {
		return fmt.Errorf("reading kubeconfig: %w", err)
	}

	parser := kubeconfig.NewParser()

	contexts, err := parser.Parse(content)
	if err != nil {
		return fmt.Errorf("importing %q: %w", src, err)
	}

	usable := make([]kubeconfig.Context, 0, len(contexts))

	for _, c := range contexts {
		if err := parser.Validate(c); err != nil {
			logger.Warn("skipping unusable context",
				slog.String("context", c.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		usable = append(usable, c)
	}

	if len(usable) == 0 {
		return errors.New("no usable contexts found")
	}

	name := opts.name
	if name == "" {
		name = filepath.Base(src)
	}

	if name != filepath.Base(name) || name == "." || name == ".." {
		return &ExitError{Code: 2, Err: fmt.Errorf("invalid file name %q", name)}
	}

	dest := filepath.Join(cfg.ResolvedManagedDir(), name)

	if _, statErr := os.Stat(dest); statErr == nil && !opts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
	}

	if err := kubeconfig.WriteFile(kubeconfig.Merge(usable), dest); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d context(s) to %s\n", len(usable), dest)

	return err
}
