package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/capture"
	"github.com/zulandar/junction/internal/launcher"
	"github.com/zulandar/junction/internal/models"
)

func newCompleteCmd() *cobra.Command {
	var (
		configPath string
		in         capture.Completion
	)

	cmd := &cobra.Command{
		Use:   "complete [payload | -]",
		Short: "Report a worker's result for a task",
		Long: "Records a task result. Called by a worker when it finishes. Session, task and role " +
			"default to the JUNCTION_SESSION_ID, JUNCTION_TASK_ID and JUNCTION_ROLE environment " +
			"variables set by the exec launcher. Pass - to read the payload from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			in.Payload = payload
			return runComplete(cmd, configPath, in)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringVar(&in.SessionID, "session", os.Getenv(launcher.EnvSessionID), "session ID")
	cmd.Flags().StringVar(&in.TaskID, "task", os.Getenv(launcher.EnvTaskID), "task ID")
	cmd.Flags().StringVar(&in.Role, "role", os.Getenv(launcher.EnvRole), "role the task was assigned")
	cmd.Flags().StringVar(&in.Status, "status", models.ResultSuccess, "result status (success or error)")
	cmd.Flags().Int64Var(&in.ExecutionTimeMs, "time-ms", 0, "execution time in milliseconds")
	return cmd
}

func readPayload(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	if args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func runComplete(cmd *cobra.Command, configPath string, in capture.Completion) error {
	if err := in.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	o, cleanup, err := openOrchestrator(ctx, configPath)
	if err != nil {
		return err
	}
	// cleanup waits for the integration this completion may have started.
	defer cleanup()

	outcome, err := o.Complete(ctx, in, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch outcome.Disposition {
	case capture.Duplicate:
		fmt.Fprintf(out, "Task %s already reported; result discarded\n", in.TaskID)
	case capture.Late:
		fmt.Fprintf(out, "Session %s already finalized; result kept for audit only\n", in.SessionID)
	default:
		fmt.Fprintf(out, "Result recorded for task %s (%s)\n", in.TaskID, in.Role)
		if outcome.Finalized {
			fmt.Fprintf(out, "Session %s finalized\n", in.SessionID)
		}
	}
	return nil
}
