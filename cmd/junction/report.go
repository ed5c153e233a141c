package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/integrate"
)

func newReportCmd() *cobra.Command {
	var (
		configPath string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "report <session-id>",
		Short: "Print a session's integration report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, configPath, args[0], asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func runReport(cmd *cobra.Command, configPath, sessionID string, asJSON bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	rep, err := integrate.Load(context.Background(), gormDB, sessionID)
	if err != nil {
		return err
	}
	if !rep.Verify() {
		return fmt.Errorf("report for %s failed fingerprint verification", sessionID)
	}
	return printReport(cmd.OutOrStdout(), rep, asJSON)
}

func printReport(out io.Writer, rep *integrate.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	if isTerminal(out) {
		if rendered, err := renderMarkdown(rep.Synthesis); err == nil {
			fmt.Fprint(out, rendered)
			return nil
		}
	}
	fmt.Fprint(out, rep.Synthesis)
	return nil
}

// renderMarkdown styles the synthesis for an interactive terminal.
func renderMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
