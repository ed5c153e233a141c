package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Finalize overdue sessions and integrate orphaned ones",
		Long: "Runs one reconciliation pass: sessions past their deadline are timed out, sessions whose " +
			"tasks have all settled are finalized, and finalized sessions without a report are integrated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string) error {
	ctx := context.Background()
	o, cleanup, err := openOrchestrator(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := o.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Finalized %d session(s)\n", n)
	return nil
}

func newArchiveCmd() *cobra.Command {
	var (
		configPath string
		due        bool
	)

	cmd := &cobra.Command{
		Use:   "archive [session-id...]",
		Short: "Move integrated sessions into the archive tables",
		Long:  "Archives the named integrated sessions, or with --due every session past the configured retention.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !due && len(args) == 0 {
				return fmt.Errorf("name at least one session or pass --due")
			}
			return runArchive(cmd, configPath, args, due)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().BoolVar(&due, "due", false, "archive every session past the retention period")
	return cmd
}

func runArchive(cmd *cobra.Command, configPath string, ids []string, due bool) error {
	ctx := context.Background()
	o, cleanup, err := openOrchestrator(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	for _, id := range ids {
		moved, err := o.Archive(ctx, id)
		if err != nil {
			return err
		}
		if moved {
			fmt.Fprintf(out, "Archived %s\n", id)
		} else {
			fmt.Fprintf(out, "%s was already archived\n", id)
		}
	}
	if due {
		n, err := o.ArchiveDue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Archived %d session(s) past retention\n", n)
	}
	return nil
}
