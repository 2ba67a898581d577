package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gritskevich/vb/pkg/reaper"
)

func reapCmd(c *cli) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove abandoned browser workspaces once",
		Long: `Remove browser workspace directories older than the retention period.

Use this after a crash or from cron when no server is running. A running
server sweeps on its own.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			rc := cfg.ReaperConfig()

			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "Would sweep %s/%s* older than %s\n", rc.Root, rc.Prefix, rc.Retention)
				return nil
			}

			r := reaper.New(rc, cfg.Logger(os.Stderr))
			res, err := r.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d, removed %d, skipped %d, errors %d\n",
				res.Scanned, res.Removed, res.Skipped, res.Errors)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Print what would be swept without removing anything")
	cmd.Flags().Duration("retention", 0, "Minimum workspace age (default 1h)")
	_ = c.v.BindPFlag("reaper.retention", cmd.Flags().Lookup("retention"))

	return cmd
}
