package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/orchestrator"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "junction.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "junction",
		Short: "Junction: fan a request out to role reviewers and merge the results",
		Long: "Junction scores a request, dispatches it to one or more role-specific workers, " +
			"collects their results, and integrates them into a single report.",
		SilenceUsage: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newCompleteCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "junction %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// connectFromConfig loads the config and opens its store, migrating the
// schema so every command works against a fresh database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		closeDB(gormDB)
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}

// openOrchestrator connects and builds an orchestrator with the configured
// logger. The returned cleanup waits for in-flight integrations before
// closing the store.
func openOrchestrator(ctx context.Context, configPath string) (*orchestrator.Orchestrator, func(), error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		closeDB(gormDB)
		return nil, nil, err
	}
	o, err := orchestrator.New(ctx, orchestrator.Options{Config: cfg, DB: gormDB, Logger: logger})
	if err != nil {
		closeDB(gormDB)
		return nil, nil, err
	}
	return o, func() {
		o.Close()
		logger.Sync()
		closeDB(gormDB)
	}, nil
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
