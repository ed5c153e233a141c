// Package api serves the orchestrator over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/logging"
	"github.com/zulandar/junction/internal/orchestrator"
	"go.uber.org/zap"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Orchestrator *orchestrator.Orchestrator
	Port         int
	Out          io.Writer
	Logger       *zap.Logger
	// Queued routes completions through the orchestrator's consumer. Set it
	// only when Orchestrator.Run is active.
	Queued bool
}

// NewRouter builds the gin engine without starting a listener.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("api: orchestrator is required")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &handlers{
		o:      opts.Orchestrator,
		queued: opts.Queued,
		logger: logging.OrNop(opts.Logger),
	})
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
