package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hyperjump/tsearch/internal/server"
	"github.com/hyperjump/tsearch/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. The server holds the index lock, so other
commands talk to it over HTTP (--server) while it runs. Directories listed
under watch.directories are spools: each JSON modify request written there
is applied and renamed with a .done or .failed suffix.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
}

func runServer(ctx context.Context, opts *rootOptions) error {
	cfg, resolvedConfigPath, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || opts.debug))

	c, err := openComponents(cfg, logger)
	if err != nil {
		logger.Error("failed to open index", zap.Error(err))
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spool := watcher.NewSpool(c.Coordinator, watcher.WithSpoolLogger(logger))
	watchSvc := watcher.New(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		spool.HandleFile,
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Watch.DebounceMS)*time.Millisecond),
	)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Error("failed to start watcher", zap.Error(err))
		return err
	}
	defer watchSvc.Stop()
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(c.Search, c.Coordinator, c.Engine, &cfg.Server,
		server.WithLogger(logger),
		server.WithWatch(watchSvc, resolvedConfigPath, cfg),
	)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
