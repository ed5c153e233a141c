package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/analyzer"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/role"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		configPath string
		roles      []string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <request>",
		Short: "Score a request without dispatching it",
		Long:  "Runs the complexity analyzer and prints the parallelization decision and candidate roles.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, configPath, strings.Join(args, " "), roles, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "pin roles instead of selecting them (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the decision as JSON")
	return cmd
}

// runAnalyze needs only the analyzer section, so it reads the config
// without opening the store.
func runAnalyze(cmd *cobra.Command, configPath, request string, roles []string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dec, err := analyzer.New(analyzer.OptionsFromConfig(cfg.Analyzer)).Analyze(request, roles)
	if err != nil {
		return err
	}
	return printDecision(cmd, dec, asJSON)
}

func printDecision(cmd *cobra.Command, dec *analyzer.Decision, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(dec)
	}
	fmt.Fprintf(out, "Parallelize: %t\n", dec.ShouldParallelize)
	fmt.Fprintf(out, "Complexity:  %d\n", dec.ComplexityScore)
	fmt.Fprintf(out, "Roles:       %s\n", strings.Join(role.Names(dec.CandidateRoles), ", "))
	fmt.Fprintf(out, "Reasoning:   %s\n", dec.Reasoning)
	return nil
}
