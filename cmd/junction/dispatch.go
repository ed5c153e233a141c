package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	var (
		configPath string
		roles      []string
		wait       bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "dispatch <request>",
		Short: "Analyze a request and fan it out to workers",
		Long: "Analyzes the request, creates a session, and launches one worker per selected role. " +
			"With --wait, blocks until the session is integrated and prints the report.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatch(cmd, configPath, strings.Join(args, " "), roles, wait, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "pin roles instead of selecting them (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the integrated report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON (with --wait)")
	return cmd
}

func runDispatch(cmd *cobra.Command, configPath, request string, roles []string, wait, asJSON bool) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	o, cleanup, err := openOrchestrator(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	sub, err := o.Submit(ctx, request, roles)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s: %d task(s), complexity %d\n",
		sub.SessionID, len(sub.TaskIDs), sub.Decision.ComplexityScore)
	for _, t := range sub.Dispatched.Tasks {
		fmt.Fprintf(out, "  task %s  %s\n", t.ID, t.Role)
	}
	if n := sub.Dispatched.LaunchFailures; n > 0 {
		fmt.Fprintf(out, "  %d worker(s) failed to launch\n", n)
	}
	if !wait {
		return nil
	}

	fmt.Fprintf(out, "Waiting for results (deadline %s)...\n",
		sub.Dispatched.Session.Deadline.Local().Format(time.Kitchen))
	rep, err := o.WaitIntegrated(ctx, sub.SessionID, 500*time.Millisecond)
	if err != nil {
		return err
	}
	return printReport(out, rep, asJSON)
}
