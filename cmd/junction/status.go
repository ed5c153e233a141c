package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/orchestrator"
	"golang.org/x/term"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Junction status dashboard",
		Long:  "Displays session counts by status, tasks in flight, and recent sessions. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch, recent)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent sessions to list")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool, recent int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	clearScreen := isTerminal(out)

	for {
		info, err := orchestrator.Status(ctx, gormDB, recent)
		if err != nil {
			return err
		}

		if watch {
			if clearScreen {
				fmt.Fprint(out, "\033[2J\033[H")
			} else {
				fmt.Fprintf(out, "--- %s ---\n", time.Now().Format(time.RFC3339))
			}
		}

		fmt.Fprint(out, orchestrator.FormatStatus(info))

		if !watch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

// isTerminal reports whether w is an interactive terminal, so screen
// clearing is skipped when output is piped.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	return cmd
}

func runShow(cmd *cobra.Command, configPath, sessionID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	d, err := orchestrator.GetSessionDetail(context.Background(), gormDB, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), orchestrator.FormatDetail(d))
	return nil
}
