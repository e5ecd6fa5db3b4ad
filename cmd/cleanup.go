package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newCleanupCmd creates the 'cleanup' subcommand.
func newCleanupCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete documents older than the retention horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = rt.cfg.Storage.Retention
			}
			if maxAge <= 0 {
				return fmt.Errorf("--max-age must be > 0")
			}
			removed, err := rt.store.Cleanup(cmd.Context(), maxAge)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d files older than %s\n", removed, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "remove files older than this (default from storage.retention)")
	return cmd
}
