// Command server runs the ProofDrop registration page and submit endpoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/ProofDrop/internal/app"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/logging"
	"github.com/dharsanguruparan/ProofDrop/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init dependencies: %w", err)
	}
	defer deps.Close()
	if err := deps.EnableUploads(ctx); err != nil {
		return fmt.Errorf("init proof uploads: %w", err)
	}

	srv, err := server.New(cfg, deps.NewForm, deps.Counter, logger.Named("http"))
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	deps.Start(gctx)
	g.Go(func() error { return srv.Serve(gctx) })
	g.Go(func() error { return deps.Counter.Run(gctx) })
	return g.Wait()
}
