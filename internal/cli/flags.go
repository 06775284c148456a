package cli

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/kcsync/internal/config"
	"github.com/hupe1980/kcsync/internal/output"
)

// registerSyncFlags adds the sync engine flags to a cobra command. They are
// persistent so that every subcommand shares them with the config file.
func registerSyncFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("managed-dir", config.DefaultManagedDir, "directory that is always synced and receives imported kubeconfigs")
	pf.Duration("debounce", config.DefaultDebounce, "coalesce rapid changes to one file (0 disables)")
	pf.Int64("max-file-size", config.DefaultMaxFileSize, "skip kubeconfig files larger than this many bytes")
}

// registerOutputFlags adds the output format flag to a cobra command.
func registerOutputFlags(cmd *cobra.Command, format *string) {
	cmd.Flags().StringVarP(format, "output", "o", output.FormatTable,
		"output format: "+output.DefaultRegistry().AvailableFormats())
}
