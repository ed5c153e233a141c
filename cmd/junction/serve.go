package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/api"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon and HTTP API",
		Long: "Starts the HTTP API together with the deadline tracker, completion consumer, " +
			"and archive schedule. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Junction config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o, cleanup, err := openOrchestrator(ctx, configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if port <= 0 {
		port = o.Config().Server.Port
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.Run(gctx) })
	g.Go(func() error {
		return api.Start(gctx, api.StartOpts{
			Orchestrator: o,
			Port:         port,
			Out:          cmd.OutOrStdout(),
			Queued:       true,
		})
	})
	return g.Wait()
}
